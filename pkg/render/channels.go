package render

import (
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/template"
)

type EmailOutput struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Preheader string `json:"preheader,omitempty"`
}

func (EmailOutput) Channel() models.StepType { return models.StepTypeEmail }

func (o EmailOutput) Content() map[string]any {
	return map[string]any{"subject": o.Subject, "body": o.Body, "preheader": o.Preheader}
}

type EmailRenderer struct {
	engine *template.Engine
}

func (r *EmailRenderer) Render(controls map[string]any, _ Internal, ctx Context) (Output, error) {
	bindings := ctx.Bindings()

	subject, err := field(r.engine, controls, "subject", bindings)
	if err != nil {
		return nil, err
	}

	body, err := field(r.engine, controls, "body", bindings)
	if err != nil {
		return nil, err
	}

	preheader, err := field(r.engine, controls, "preheader", bindings)
	if err != nil {
		return nil, err
	}

	if blank(subject) && blank(body) {
		return nil, ErrContentNotGenerated
	}

	return EmailOutput{Subject: subject, Body: body, Preheader: preheader}, nil
}

// TextOutput is the body-only output of SMS and chat steps.
type TextOutput struct {
	channel models.StepType
	Body    string          `json:"body"`
}

func (o TextOutput) Channel() models.StepType { return o.channel }

func (o TextOutput) Content() map[string]any {
	return map[string]any{"body": o.Body}
}

func renderText(engine *template.Engine, channel models.StepType, controls map[string]any, ctx Context) (Output, error) {
	body, err := field(engine, controls, "body", ctx.Bindings())
	if err != nil {
		return nil, err
	}

	if blank(body) {
		return nil, ErrContentNotGenerated
	}

	return TextOutput{channel: channel, Body: body}, nil
}

type SMSRenderer struct {
	engine *template.Engine
}

func (r *SMSRenderer) Render(controls map[string]any, _ Internal, ctx Context) (Output, error) {
	return renderText(r.engine, models.StepTypeSMS, controls, ctx)
}

type ChatRenderer struct {
	engine *template.Engine
}

func (r *ChatRenderer) Render(controls map[string]any, _ Internal, ctx Context) (Output, error) {
	return renderText(r.engine, models.StepTypeChat, controls, ctx)
}

type PushOutput struct {
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data,omitempty"`
}

func (PushOutput) Channel() models.StepType { return models.StepTypePush }

func (o PushOutput) Content() map[string]any {
	return map[string]any{"subject": o.Subject, "body": o.Body, "data": o.Data}
}

type PushRenderer struct {
	engine *template.Engine
}

func (r *PushRenderer) Render(controls map[string]any, _ Internal, ctx Context) (Output, error) {
	bindings := ctx.Bindings()

	subject, err := field(r.engine, controls, "subject", bindings)
	if err != nil {
		return nil, err
	}

	body, err := field(r.engine, controls, "body", bindings)
	if err != nil {
		return nil, err
	}

	if blank(body) {
		return nil, ErrContentNotGenerated
	}

	var data map[string]any

	if raw, ok := controls["data"].(map[string]any); ok {
		rendered, err := r.engine.RenderValue(raw, bindings)
		if err != nil {
			return nil, fmt.Errorf("%w: data: %w", ErrContentSyntax, err)
		}

		data, _ = rendered.(map[string]any)
	}

	return PushOutput{Subject: subject, Body: body, Data: data}, nil
}

type Redirect struct {
	URL    string `json:"url"`
	Target string `json:"target,omitempty"`
}

type Action struct {
	Label    string    `json:"label"`
	Redirect *Redirect `json:"redirect,omitempty"`
}

type InAppOutput struct {
	Subject         string    `json:"subject,omitempty"`
	Body            string    `json:"body"`
	Avatar          string    `json:"avatar,omitempty"`
	PrimaryAction   *Action   `json:"primaryAction,omitempty"`
	SecondaryAction *Action   `json:"secondaryAction,omitempty"`
	Redirect        *Redirect `json:"redirect,omitempty"`
}

func (InAppOutput) Channel() models.StepType { return models.StepTypeInApp }

func (o InAppOutput) Content() map[string]any {
	content := map[string]any{"subject": o.Subject, "body": o.Body, "avatar": o.Avatar}

	if o.PrimaryAction != nil {
		content["primaryAction"] = o.PrimaryAction
	}

	if o.SecondaryAction != nil {
		content["secondaryAction"] = o.SecondaryAction
	}

	if o.Redirect != nil {
		content["redirect"] = o.Redirect
	}

	return content
}

// InAppRenderer sanitizes subject and body HTML unless the controls disable it.
type InAppRenderer struct {
	engine *template.Engine
	policy *bluemonday.Policy
}

func (r *InAppRenderer) Render(controls map[string]any, internal Internal, ctx Context) (Output, error) {
	bindings := ctx.Bindings()

	subject, err := field(r.engine, controls, "subject", bindings)
	if err != nil {
		return nil, err
	}

	body, err := field(r.engine, controls, "body", bindings)
	if err != nil {
		return nil, err
	}

	avatar, err := field(r.engine, controls, "avatar", bindings)
	if err != nil {
		return nil, err
	}

	if !internal.DisableOutputSanitization {
		subject = r.policy.Sanitize(subject)
		body = r.policy.Sanitize(body)
	}

	if blank(body) {
		return nil, ErrContentNotGenerated
	}

	out := InAppOutput{Subject: subject, Body: body, Avatar: avatar}

	out.Redirect, err = r.redirect(controls["redirect"], bindings)
	if err != nil {
		return nil, err
	}

	out.PrimaryAction, err = r.action(controls["primaryAction"], bindings)
	if err != nil {
		return nil, err
	}

	out.SecondaryAction, err = r.action(controls["secondaryAction"], bindings)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *InAppRenderer) action(raw any, bindings map[string]any) (*Action, error) {
	controls, ok := raw.(map[string]any)
	if !ok {
		return nil, nil
	}

	label, err := field(r.engine, controls, "label", bindings)
	if err != nil {
		return nil, err
	}

	if blank(label) {
		return nil, nil
	}

	redirect, err := r.redirect(controls["redirect"], bindings)
	if err != nil {
		return nil, err
	}

	return &Action{Label: label, Redirect: redirect}, nil
}

func (r *InAppRenderer) redirect(raw any, bindings map[string]any) (*Redirect, error) {
	controls, ok := raw.(map[string]any)
	if !ok {
		return nil, nil
	}

	url, err := field(r.engine, controls, "url", bindings)
	if err != nil {
		return nil, err
	}

	if blank(url) {
		return nil, nil
	}

	target, _ := controls["target"].(string)

	return &Redirect{URL: url, Target: target}, nil
}
