package cmd

import (
	"log/slog"

	cli "github.com/urfave/cli/v3"

	"github.com/vessoa/paperwork/pkg/mailer"
	"github.com/vessoa/paperwork/pkg/protocol"
	"github.com/vessoa/paperwork/pkg/renderer"
	"github.com/vessoa/paperwork/pkg/signing"
	"github.com/vessoa/paperwork/pkg/sources"
)

const defaultSigningProvider = "inksign"

// CollaboratorConfig carries the endpoints and credentials of the outbound
// HTTP adapters. Values come from the service's environment flags.
type CollaboratorConfig struct {
	SourceURL   string
	SourceKey   string
	RendererURL string
	RendererKey string
	MailerURL   string
	MailerKey   string

	SigningProvider string
	SigningURL      string
	SigningKey      string
}

// Collaborators groups the outbound adapters the step executors and the
// webhook endpoint share.
type Collaborators struct {
	Source   protocol.SourceClient
	Renderer protocol.Renderer
	Mailer   protocol.Mailer

	// Signer is the provider new signature requests go through; Signers
	// routes inbound webhook events by provider name.
	Signer  protocol.SignatureProvider
	Signers map[string]protocol.SignatureProvider
}

// NewCollaborators builds the HTTP adapters for the configured endpoints.
func NewCollaborators(config CollaboratorConfig, logger *slog.Logger) *Collaborators {
	name := config.SigningProvider
	if name == "" {
		name = defaultSigningProvider
	}

	signer := signing.NewProvider(name, config.SigningURL, config.SigningKey, logger)

	return &Collaborators{
		Source:   sources.NewClient(config.SourceURL, config.SourceKey, logger),
		Renderer: renderer.NewClient(config.RendererURL, config.RendererKey, logger),
		Mailer:   mailer.NewClient(config.MailerURL, config.MailerKey, logger),
		Signer:   signer,
		Signers:  map[string]protocol.SignatureProvider{name: signer},
	}
}

// CollaboratorFlags returns the shared CLI flags for the outbound adapter
// endpoints.
func CollaboratorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "source-api-url",
			Usage:   "Base URL of the source-of-record API",
			Sources: cli.EnvVars("SOURCE_API_URL"),
		},
		&cli.StringFlag{
			Name:    "source-api-key",
			Usage:   "API key for the source-of-record API",
			Sources: cli.EnvVars("SOURCE_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "renderer-api-url",
			Usage:   "Base URL of the document rendering service",
			Sources: cli.EnvVars("RENDERER_API_URL"),
		},
		&cli.StringFlag{
			Name:    "renderer-api-key",
			Usage:   "API key for the document rendering service",
			Sources: cli.EnvVars("RENDERER_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "mailer-api-url",
			Usage:   "Base URL of the mail delivery service",
			Sources: cli.EnvVars("MAILER_API_URL"),
		},
		&cli.StringFlag{
			Name:    "mailer-api-key",
			Usage:   "API key for the mail delivery service",
			Sources: cli.EnvVars("MAILER_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "signing-provider",
			Usage:   "Name of the e-signature provider",
			Value:   defaultSigningProvider,
			Sources: cli.EnvVars("SIGNING_PROVIDER"),
		},
		&cli.StringFlag{
			Name:    "signing-api-url",
			Usage:   "Base URL of the e-signature provider",
			Sources: cli.EnvVars("SIGNING_API_URL"),
		},
		&cli.StringFlag{
			Name:    "signing-api-key",
			Usage:   "API key for the e-signature provider",
			Sources: cli.EnvVars("SIGNING_API_KEY"),
		},
	}
}

// CollaboratorConfigFrom reads the adapter endpoints out of parsed CLI
// flags.
func CollaboratorConfigFrom(command *cli.Command) CollaboratorConfig {
	return CollaboratorConfig{
		SourceURL:       command.String("source-api-url"),
		SourceKey:       command.String("source-api-key"),
		RendererURL:     command.String("renderer-api-url"),
		RendererKey:     command.String("renderer-api-key"),
		MailerURL:       command.String("mailer-api-url"),
		MailerKey:       command.String("mailer-api-key"),
		SigningProvider: command.String("signing-provider"),
		SigningURL:      command.String("signing-api-url"),
		SigningKey:      command.String("signing-api-key"),
	}
}
