package files

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pluqqy/funnelkit/pkg/idgen"
	"github.com/pluqqy/funnelkit/pkg/models"
)

// DocumentVersion is the version written into exported funnels.
const DocumentVersion = 1

// FunnelDocument is the YAML form of a funnel used by export and import.
// Theme holds the theme configuration as JSON text.
type FunnelDocument struct {
	Version int               `yaml:"version"`
	Name    string            `yaml:"name"`
	Theme   string            `yaml:"theme,omitempty"`
	Steps   []models.StepTree `yaml:"steps"`
}

// NewFunnelDocument captures a funnel for export.
func NewFunnelDocument(f *models.Funnel) *FunnelDocument {
	return &FunnelDocument{
		Version: DocumentVersion,
		Name:    f.Name,
		Theme:   string(f.Theme),
		Steps:   models.SnapshotFromTree(f.Steps).Tree(),
	}
}

// MarshalFunnelDocument encodes a document as YAML.
func MarshalFunnelDocument(doc *FunnelDocument) ([]byte, error) {
	content, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal funnel to YAML: %w", err)
	}
	return content, nil
}

// WriteFunnelDocument writes a document to path.
func WriteFunnelDocument(path string, doc *FunnelDocument) error {
	content, err := MarshalFunnelDocument(doc)
	if err != nil {
		return err
	}
	return WriteFile(path, string(content))
}

// ReadFunnelDocument reads and checks an exported funnel.
func ReadFunnelDocument(path string) (*FunnelDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read funnel %s: %w", path, err)
	}
	return ParseFunnelDocument(content)
}

// ParseFunnelDocument decodes and checks an exported funnel.
func ParseFunnelDocument(content []byte) (*FunnelDocument, error) {
	var doc FunnelDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse funnel YAML: %w", err)
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("unsupported funnel document version %d (want %d)", doc.Version, DocumentVersion)
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("funnel document has no name")
	}
	if doc.Theme != "" && !json.Valid([]byte(doc.Theme)) {
		return nil, fmt.Errorf("funnel document theme is not valid JSON")
	}
	for _, step := range doc.Steps {
		for _, c := range step.Components {
			if c.Data == nil {
				return nil, fmt.Errorf("component %s in step %q has no data", c.ID, step.Title)
			}
		}
	}
	return &doc, nil
}

// ThemeConfig returns the theme as raw JSON, or nil when there is none.
func (d *FunnelDocument) ThemeConfig() json.RawMessage {
	if d.Theme == "" {
		return nil
	}
	return json.RawMessage(d.Theme)
}

// SaveRequest turns the document into a save of a fresh funnel. Every step
// and component gets a new client id from newID, and step references inside
// the document follow their steps.
func (d *FunnelDocument) SaveRequest(funnelID string, newID idgen.Generator) models.SaveRequest {
	stepIDs := make([]string, len(d.Steps))
	ids := make(map[string]string, len(d.Steps))
	for i, step := range d.Steps {
		stepIDs[i] = newID()
		if step.ID != "" {
			ids[step.ID] = stepIDs[i]
		}
	}
	resolve := func(stepID string) string { return ids[stepID] }

	req := models.SaveRequest{
		FunnelID:         funnelID,
		Steps:            make([]models.Step, 0, len(d.Steps)),
		ComponentsByStep: make(map[string][]models.Component, len(d.Steps)),
		ThemeConfig:      d.ThemeConfig(),
	}
	for i, st := range d.Steps {
		step := models.Step{ID: stepIDs[i], Title: st.Title, Order: i}
		req.Steps = append(req.Steps, step)

		comps := make([]models.Component, 0, len(st.Components))
		for j, c := range st.Components {
			comps = append(comps, models.Component{
				ID:    newID(),
				Type:  c.Type,
				Order: j,
				Data:  models.RewriteStepRefs(c.Data, resolve),
			})
		}
		req.ComponentsByStep[step.ID] = comps
	}
	return req
}
