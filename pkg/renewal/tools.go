package renewal

import (
	"context"
	"log/slog"

	"github.com/vango-go/renewvoice/pkg/live"
)

// Tool names the model can invoke during an intake session.
const (
	ToolRequestPayment = "requestPayment"
	ToolSubmitRequest  = "submitPrescriptionRequest"
	ToolSendNotice     = "sendRenewalNotice"
)

// Finalizer accepts the validated terminal record. Satisfied by
// *live.Engine.
type Finalizer interface {
	Finalize(live.CollectedRecord) error
}

// registrar binds tool declarations to handlers. Satisfied by *live.Engine.
type registrar interface {
	RegisterTool(live.FunctionDeclaration, live.ToolHandler)
}

// Tools wires the renewal domain handlers. Zero-value fields fall back to
// safe defaults (static link text, log-only notices).
type Tools struct {
	Payments  PaymentLinker
	Presenter PaymentPresenter
	Notifier  Notifier
	Log       *slog.Logger
}

// Register advertises all renewal tools on r, routing the terminal submit
// through f. Declaration order matters: payment precedes submission, which
// is also the order the conversation policy asks the model to follow.
func (t *Tools) Register(r registrar, f Finalizer) {
	if t.Log == nil {
		t.Log = slog.Default()
	}
	r.RegisterTool(requestPaymentDecl, t.handleRequestPayment)
	r.RegisterTool(submitRequestDecl, t.submitHandler(f))
	r.RegisterTool(sendNoticeDecl, t.handleSendNotice)
}

var requestPaymentDecl = live.FunctionDeclaration{
	Name:        ToolRequestPayment,
	Description: "Send the patient a payment link for the prescription renewal fee. Call this once all renewal details are confirmed and before submitting the request.",
	Parameters: &live.Schema{
		Type: "object",
		Properties: map[string]*live.Schema{
			"description": {
				Type:        "string",
				Description: "Short human-readable summary of what the payment covers.",
			},
		},
	},
}

var submitRequestDecl = live.FunctionDeclaration{
	Name:        ToolSubmitRequest,
	Description: "Submit the completed prescription renewal request. Call this exactly once, after the payment link has been sent, with every collected field. This ends the session.",
	Parameters: &live.Schema{
		Type: "object",
		Properties: map[string]*live.Schema{
			FieldPatientName:  {Type: "string", Description: "Patient's full legal name."},
			FieldDateOfBirth:  {Type: "string", Description: "Patient's date of birth, YYYY-MM-DD."},
			FieldMedication:   {Type: "string", Description: "Medication to renew."},
			FieldDosage:       {Type: "string", Description: "Dosage and frequency."},
			FieldPrescriber:   {Type: "string", Description: "Prescribing clinician's name."},
			FieldPharmacy:     {Type: "string", Description: "Pharmacy name and location for pickup."},
			FieldContactPhone: {Type: "string", Description: "Patient's callback phone number."},
			FieldContactEmail: {Type: "string", Description: "Patient's email address, if offered."},
			FieldNotes:        {Type: "string", Description: "Anything else the patient mentioned that the clinician should know."},
		},
		Required: []string{
			FieldPatientName, FieldDateOfBirth, FieldMedication, FieldDosage,
			FieldPrescriber, FieldPharmacy, FieldContactPhone,
		},
	},
}

var sendNoticeDecl = live.FunctionDeclaration{
	Name:        ToolSendNotice,
	Description: "Send the patient a written confirmation or reminder about their renewal outside the call.",
	Parameters: &live.Schema{
		Type: "object",
		Properties: map[string]*live.Schema{
			"channel": {Type: "string", Enum: []string{"sms", "email"}, Description: "Delivery channel."},
			"to":      {Type: "string", Description: "Phone number or email address."},
			"message": {Type: "string", Description: "Notice text."},
		},
		Required: []string{"channel", "to", "message"},
	},
}

// handleRequestPayment creates and surfaces a payment link, answering the
// model with a short acknowledgement it can relay verbally.
func (t *Tools) handleRequestPayment(ctx context.Context, args map[string]any) (map[string]any, error) {
	linker := t.Payments
	if linker == nil {
		linker = &StaticLinker{URL: "payment link pending"}
	}

	url, err := linker.CreateLink(ctx, stringArg(args, "description"))
	if err != nil {
		t.Log.Error("payment link creation failed", "error", err)
		return nil, live.WrapError(live.ErrToolHandler, "could not create payment link", err)
	}

	if t.Presenter != nil {
		t.Presenter(url)
	}
	t.Log.Info("payment link requested", "url", url)
	return map[string]any{
		"status":  "payment_link_sent",
		"message": "A payment link has been sent to the patient.",
	}, nil
}

// submitHandler returns the terminal handler: validate, finalize, done. A
// validation failure keeps the session alive so the model can re-collect
// the missing fields.
func (t *Tools) submitHandler(f Finalizer) live.ToolHandler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		rec, err := BuildRecord(args)
		if err != nil {
			t.Log.Warn("submission rejected", "error", err)
			return nil, err
		}
		if err := f.Finalize(rec); err != nil {
			return nil, err
		}
		t.Log.Info("renewal request accepted", "patient", rec[FieldPatientName], "medication", rec[FieldMedication])
		return map[string]any{
			"status":  "accepted",
			"message": "The renewal request has been submitted.",
		}, nil
	}
}

// handleSendNotice delivers an out-of-band notice through the configured
// transport.
func (t *Tools) handleSendNotice(ctx context.Context, args map[string]any) (map[string]any, error) {
	notifier := t.Notifier
	if notifier == nil {
		notifier = &LogNotifier{Log: t.Log}
	}

	channel := stringArg(args, "channel")
	to := stringArg(args, "to")
	message := stringArg(args, "message")
	if channel == "" || to == "" || message == "" {
		return nil, live.NewValidationError("channel, to and message are required")
	}

	if err := notifier.Notify(ctx, channel, to, message); err != nil {
		return nil, live.WrapError(live.ErrToolHandler, "notice delivery failed", err)
	}
	return map[string]any{"status": "sent"}, nil
}
