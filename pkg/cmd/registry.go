package cmd

import (
	"log/slog"

	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/registry"
	"github.com/vessoa/paperwork/pkg/steps/approval"
	"github.com/vessoa/paperwork/pkg/steps/docgen"
	"github.com/vessoa/paperwork/pkg/steps/email"
	"github.com/vessoa/paperwork/pkg/steps/signature"
	"github.com/vessoa/paperwork/pkg/steps/trigger"
	"github.com/vessoa/paperwork/pkg/steps/webhook"
)

// NewRegistry registers the closed set of step kinds, backed by the given
// stores and outbound adapters.
func NewRegistry(persist persistence.Persistence, collaborators *Collaborators, logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register(trigger.NewFactory(collaborators.Source))
	reg.Register(docgen.NewFactory(collaborators.Renderer, persist.DocumentRepository()))
	reg.Register(email.NewFactory(collaborators.Mailer, collaborators.Renderer))
	reg.Register(webhook.NewFactory())
	reg.Register(approval.NewFactory(persist.ApprovalRepository()))
	reg.Register(signature.NewFactory(collaborators.Signer, persist.SignatureRepository()))

	return reg
}
