package scheduler

import (
	"context"
	"fmt"

	"github.com/auditrail/auditrail/internal/compliance"
	"github.com/auditrail/auditrail/internal/delivery/email"
	"github.com/auditrail/auditrail/internal/delivery/storage"
	"github.com/auditrail/auditrail/internal/delivery/webhook"
	aerrors "github.com/auditrail/auditrail/internal/errors"
)

// EmailDeliverer implements Deliverer over internal/delivery/email,
// substituting the report name into a fixed subject/body template (§4.10
// "template substitution") that names the export id and checksum. The
// exported bytes are not attached.
type EmailDeliverer struct {
	sender *email.Sender
}

// NewEmailDeliverer builds an EmailDeliverer.
func NewEmailDeliverer(sender *email.Sender) *EmailDeliverer {
	return &EmailDeliverer{sender: sender}
}

func (d *EmailDeliverer) Deliver(ctx context.Context, cfg DeliveryConfig, result *compliance.ExportResult, reportName string) error {
	subject := fmt.Sprintf("Scheduled report: %s", reportName)
	body := fmt.Sprintf("Your scheduled report %q is ready. Export id: %s, checksum: %s", reportName, result.ExportID, result.Checksum)
	for _, to := range cfg.Recipients {
		if err := d.sender.Send(ctx, to, subject, body, "<p>"+body+"</p>"); err != nil {
			return aerrors.Wrap(aerrors.KindNetwork, "scheduler", err)
		}
	}
	return nil
}

// WebhookDeliverer implements Deliverer by POSTing the export bytes to a
// per-config URL with per-config headers, the same backoff structure C3
// uses for queue retries (handled by Engine.deliver, not here).
type WebhookDeliverer struct{}

// NewWebhookDeliverer builds a WebhookDeliverer.
func NewWebhookDeliverer() *WebhookDeliverer {
	return &WebhookDeliverer{}
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, cfg DeliveryConfig, result *compliance.ExportResult, reportName string) error {
	if cfg.WebhookURL == "" {
		return aerrors.New(aerrors.KindConfig, "scheduler", "webhook delivery requires a URL")
	}
	headers := map[string]string{"Content-Type": result.ContentType}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return webhook.PostURL(ctx, cfg.WebhookURL, result.Bytes, headers)
}

// StorageDeliverer implements Deliverer by writing the export bytes to
// local disk or S3 per the config's path template.
type StorageDeliverer struct {
	channel *storage.Channel
	cfg     storage.Config
}

// NewStorageDeliverer builds a StorageDeliverer over a storage.Channel and
// its static provider/path-template/cleanup configuration.
func NewStorageDeliverer(channel *storage.Channel, cfg storage.Config) *StorageDeliverer {
	return &StorageDeliverer{channel: channel, cfg: cfg}
}

func (d *StorageDeliverer) Deliver(ctx context.Context, cfg DeliveryConfig, result *compliance.ExportResult, reportName string) error {
	vars := storage.TemplateVars{ReportID: result.ExportID, Ext: string(result.Format)}
	writeCfg := d.cfg
	if cfg.StoragePath != "" {
		writeCfg.PathTemplate = cfg.StoragePath
	}
	_, err := d.channel.Write(ctx, writeCfg, vars, result.Bytes)
	return err
}
