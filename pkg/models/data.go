package models

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ComponentType is the discriminant of the closed component catalog.
type ComponentType string

const (
	ComponentTypeOptions      ComponentType = "options"
	ComponentTypeText         ComponentType = "text"
	ComponentTypePricing      ComponentType = "pricing"
	ComponentTypeInput        ComponentType = "input"
	ComponentTypePoll         ComponentType = "poll"
	ComponentTypeAudio        ComponentType = "audio"
	ComponentTypeVideo        ComponentType = "video"
	ComponentTypeSocialShare  ComponentType = "social-share"
	ComponentTypeNotification ComponentType = "notification"
	ComponentTypeConfetti     ComponentType = "confetti"
)

// ComponentTypes lists the catalog in palette order.
var ComponentTypes = []ComponentType{
	ComponentTypeOptions,
	ComponentTypeText,
	ComponentTypePricing,
	ComponentTypeInput,
	ComponentTypePoll,
	ComponentTypeAudio,
	ComponentTypeVideo,
	ComponentTypeSocialShare,
	ComponentTypeNotification,
	ComponentTypeConfetti,
}

// Valid reports whether t belongs to the catalog.
func (t ComponentType) Valid() bool {
	for _, known := range ComponentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Data is the type-specific payload of a component. The set of
// implementations is closed to this package.
type Data interface {
	Type() ComponentType
	Clone() Data
	isData()
}

type Option struct {
	ID           string `json:"id" yaml:"id"`
	Label        string `json:"label" yaml:"label"`
	TargetStepID string `json:"targetStepId,omitempty" yaml:"target_step_id,omitempty"`
}

type OptionsData struct {
	Question string   `json:"question" yaml:"question"`
	Multiple bool     `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	Options  []Option `json:"options" yaml:"options"`
}

type TextData struct {
	Content string `json:"content" yaml:"content"`
	Align   string `json:"align,omitempty" yaml:"align,omitempty"`
}

type PricingData struct {
	Title        string   `json:"title" yaml:"title"`
	Price        string   `json:"price" yaml:"price"`
	Currency     string   `json:"currency" yaml:"currency"`
	Period       string   `json:"period,omitempty" yaml:"period,omitempty"`
	Features     []string `json:"features" yaml:"features"`
	CTA          string   `json:"cta" yaml:"cta"`
	TargetStepID string   `json:"targetStepId,omitempty" yaml:"target_step_id,omitempty"`
}

type InputData struct {
	Label       string `json:"label" yaml:"label"`
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Field       string `json:"field" yaml:"field"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

type PollOption struct {
	ID           string `json:"id" yaml:"id"`
	Label        string `json:"label" yaml:"label"`
	TargetStepID string `json:"targetStepId,omitempty" yaml:"target_step_id,omitempty"`
}

type PollData struct {
	Question    string       `json:"question" yaml:"question"`
	ShowResults bool         `json:"showResults,omitempty" yaml:"show_results,omitempty"`
	Options     []PollOption `json:"options" yaml:"options"`
}

type MediaData struct {
	URL      string `json:"url" yaml:"url"`
	Caption  string `json:"caption,omitempty" yaml:"caption,omitempty"`
	Autoplay bool   `json:"autoplay,omitempty" yaml:"autoplay,omitempty"`
}

type AudioData struct {
	MediaData `yaml:",inline"`
}

type VideoData struct {
	MediaData `yaml:",inline"`
}

type SocialShareData struct {
	Message  string   `json:"message" yaml:"message"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
	Networks []string `json:"networks" yaml:"networks"`
}

type NotificationData struct {
	Message string `json:"message" yaml:"message"`
	Variant string `json:"variant" yaml:"variant"`
}

type ConfettiData struct {
	DurationMS int `json:"durationMs" yaml:"duration_ms"`
	Particles  int `json:"particles" yaml:"particles"`
}

func (*OptionsData) Type() ComponentType      { return ComponentTypeOptions }
func (*TextData) Type() ComponentType         { return ComponentTypeText }
func (*PricingData) Type() ComponentType      { return ComponentTypePricing }
func (*InputData) Type() ComponentType        { return ComponentTypeInput }
func (*PollData) Type() ComponentType         { return ComponentTypePoll }
func (*AudioData) Type() ComponentType        { return ComponentTypeAudio }
func (*VideoData) Type() ComponentType        { return ComponentTypeVideo }
func (*SocialShareData) Type() ComponentType  { return ComponentTypeSocialShare }
func (*NotificationData) Type() ComponentType { return ComponentTypeNotification }
func (*ConfettiData) Type() ComponentType     { return ComponentTypeConfetti }

func (*OptionsData) isData()      {}
func (*TextData) isData()         {}
func (*PricingData) isData()      {}
func (*InputData) isData()        {}
func (*PollData) isData()         {}
func (*AudioData) isData()        {}
func (*VideoData) isData()        {}
func (*SocialShareData) isData()  {}
func (*NotificationData) isData() {}
func (*ConfettiData) isData()     {}

func (d *OptionsData) Clone() Data {
	out := *d
	out.Options = append([]Option(nil), d.Options...)
	return &out
}

func (d *TextData) Clone() Data { out := *d; return &out }

func (d *PricingData) Clone() Data {
	out := *d
	out.Features = append([]string(nil), d.Features...)
	return &out
}

func (d *InputData) Clone() Data { out := *d; return &out }

func (d *PollData) Clone() Data {
	out := *d
	out.Options = append([]PollOption(nil), d.Options...)
	return &out
}

func (d *AudioData) Clone() Data { out := *d; return &out }
func (d *VideoData) Clone() Data { out := *d; return &out }

func (d *SocialShareData) Clone() Data {
	out := *d
	out.Networks = append([]string(nil), d.Networks...)
	return &out
}

func (d *NotificationData) Clone() Data { out := *d; return &out }
func (d *ConfettiData) Clone() Data     { out := *d; return &out }

// NewData returns an empty variant for t.
func NewData(t ComponentType) (Data, error) {
	switch t {
	case ComponentTypeOptions:
		return &OptionsData{}, nil
	case ComponentTypeText:
		return &TextData{}, nil
	case ComponentTypePricing:
		return &PricingData{}, nil
	case ComponentTypeInput:
		return &InputData{}, nil
	case ComponentTypePoll:
		return &PollData{}, nil
	case ComponentTypeAudio:
		return &AudioData{}, nil
	case ComponentTypeVideo:
		return &VideoData{}, nil
	case ComponentTypeSocialShare:
		return &SocialShareData{}, nil
	case ComponentTypeNotification:
		return &NotificationData{}, nil
	case ComponentTypeConfetti:
		return &ConfettiData{}, nil
	default:
		return nil, fmt.Errorf("unknown component type: %q", t)
	}
}

// DefaultData returns the payload a freshly added component of type t
// starts with. newID generates option sub-ids.
func DefaultData(t ComponentType, newID func() string) (Data, error) {
	switch t {
	case ComponentTypeOptions:
		return &OptionsData{
			Question: "Choose an option",
			Options: []Option{
				{ID: newID(), Label: "Option 1"},
				{ID: newID(), Label: "Option 2"},
			},
		}, nil
	case ComponentTypeText:
		return &TextData{Content: "Your text here", Align: "left"}, nil
	case ComponentTypePricing:
		return &PricingData{
			Title:    "Pro",
			Price:    "29",
			Currency: "USD",
			Period:   "month",
			Features: []string{"Feature 1", "Feature 2"},
			CTA:      "Get started",
		}, nil
	case ComponentTypeInput:
		return &InputData{Label: "Your email", Placeholder: "name@example.com", Field: "email", Required: true}, nil
	case ComponentTypePoll:
		return &PollData{
			Question:    "What do you think?",
			ShowResults: true,
			Options: []PollOption{
				{ID: newID(), Label: "Yes"},
				{ID: newID(), Label: "No"},
			},
		}, nil
	case ComponentTypeAudio:
		return &AudioData{MediaData{Caption: "Audio"}}, nil
	case ComponentTypeVideo:
		return &VideoData{MediaData{Caption: "Video"}}, nil
	case ComponentTypeSocialShare:
		return &SocialShareData{Message: "Share with your friends", Networks: []string{"facebook", "x", "linkedin"}}, nil
	case ComponentTypeNotification:
		return &NotificationData{Message: "Thanks for your answer!", Variant: "info"}, nil
	case ComponentTypeConfetti:
		return &ConfettiData{DurationMS: 3000, Particles: 150}, nil
	default:
		return nil, fmt.Errorf("unknown component type: %q", t)
	}
}

// DecodeData decodes a JSON payload into the variant for t.
func DecodeData(t ComponentType, raw []byte) (Data, error) {
	d, err := NewData(t)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return d, nil
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, fmt.Errorf("failed to decode %s data: %w", t, err)
	}
	return d, nil
}

// RewriteStepRefs returns a copy of d with every embedded step reference
// passed through resolve. Empty references are left empty.
func RewriteStepRefs(d Data, resolve func(stepID string) string) Data {
	if d == nil {
		return nil
	}
	out := d.Clone()
	apply := func(ref *string) {
		if *ref != "" {
			*ref = resolve(*ref)
		}
	}
	switch v := out.(type) {
	case *OptionsData:
		for i := range v.Options {
			apply(&v.Options[i].TargetStepID)
		}
	case *PollData:
		for i := range v.Options {
			apply(&v.Options[i].TargetStepID)
		}
	case *PricingData:
		apply(&v.TargetStepID)
	case *TextData, *InputData, *AudioData, *VideoData,
		*SocialShareData, *NotificationData, *ConfettiData:
	default:
		panic(fmt.Sprintf("models: no step reference rule for %T", d))
	}
	return out
}

// StepRefs lists the step ids referenced by d, in payload order.
func StepRefs(d Data) []string {
	var refs []string
	RewriteStepRefs(d, func(id string) string {
		refs = append(refs, id)
		return id
	})
	return refs
}

// RegenerateSubIDs gives every option-like entry in d a fresh id. Used when
// a component is duplicated so that copies never share sub-ids.
func RegenerateSubIDs(d Data, newID func() string) {
	switch v := d.(type) {
	case *OptionsData:
		for i := range v.Options {
			v.Options[i].ID = newID()
		}
	case *PollData:
		for i := range v.Options {
			v.Options[i].ID = newID()
		}
	}
}

// PrimaryField returns the JSON key of the free-text field the builder edits
// inline for t, or "" when the type has none.
func PrimaryField(t ComponentType) string {
	switch t {
	case ComponentTypeOptions, ComponentTypePoll:
		return "question"
	case ComponentTypeText:
		return "content"
	case ComponentTypePricing:
		return "title"
	case ComponentTypeInput:
		return "label"
	case ComponentTypeAudio, ComponentTypeVideo:
		return "caption"
	case ComponentTypeSocialShare, ComponentTypeNotification:
		return "message"
	default:
		return ""
	}
}

// Summary returns a one-line description of a payload.
func Summary(d Data) string {
	switch v := d.(type) {
	case *OptionsData:
		return fmt.Sprintf("%s (%d options)", v.Question, len(v.Options))
	case *TextData:
		return v.Content
	case *PricingData:
		return fmt.Sprintf("%s %s %s", v.Title, v.Price, v.Currency)
	case *InputData:
		return fmt.Sprintf("%s [%s]", v.Label, v.Field)
	case *PollData:
		return fmt.Sprintf("%s (%d answers)", v.Question, len(v.Options))
	case *AudioData:
		return v.Caption
	case *VideoData:
		return v.Caption
	case *SocialShareData:
		return v.Message
	case *NotificationData:
		return v.Message
	case *ConfettiData:
		return fmt.Sprintf("%d particles for %dms", v.Particles, v.DurationMS)
	default:
		return ""
	}
}

type componentWire struct {
	ID    string          `json:"id"`
	Type  ComponentType   `json:"type"`
	Order int             `json:"order"`
	Data  json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes data according to the type discriminant.
func (c *Component) UnmarshalJSON(b []byte) error {
	var w componentWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	d, err := DecodeData(w.Type, w.Data)
	if err != nil {
		return err
	}
	*c = Component{ID: w.ID, Type: w.Type, Order: w.Order, Data: d}
	return nil
}

type componentYAML struct {
	ID    string        `yaml:"id"`
	Type  ComponentType `yaml:"type"`
	Order int           `yaml:"order"`
	Data  yaml.Node     `yaml:"data"`
}

// MarshalYAML writes the payload under a data key next to the discriminant.
func (c Component) MarshalYAML() (interface{}, error) {
	var node yaml.Node
	if c.Data != nil {
		if err := node.Encode(c.Data); err != nil {
			return nil, err
		}
	}
	return componentYAML{ID: c.ID, Type: c.Type, Order: c.Order, Data: node}, nil
}

// UnmarshalYAML decodes data according to the type discriminant.
func (c *Component) UnmarshalYAML(value *yaml.Node) error {
	var w componentYAML
	if err := value.Decode(&w); err != nil {
		return err
	}
	d, err := NewData(w.Type)
	if err != nil {
		return err
	}
	if w.Data.Kind != 0 {
		if err := w.Data.Decode(d); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", w.Type, err)
		}
	}
	*c = Component{ID: w.ID, Type: w.Type, Order: w.Order, Data: d}
	return nil
}
