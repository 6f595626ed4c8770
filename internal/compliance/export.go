package compliance

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/google/uuid"

	aerrors "github.com/auditrail/auditrail/internal/errors"
)

// Format is the export serialization format (§4.8 "Exports").
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
	FormatPDF  Format = "pdf"
)

// Compression is an optional second pipeline stage.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZip  Compression = "zip"
)

// ExportConfig parameterizes the export pipeline.
type ExportConfig struct {
	Format         Format
	Compression    Compression
	EncryptionKey  []byte // AES-256-GCM key; nil disables encryption
	EncryptionKeyID string
}

// ExportResult is §4.8's result envelope.
type ExportResult struct {
	ExportID    string
	Format      Format
	Bytes       []byte
	ContentType string
	Filename    string
	Size        int
	Checksum    string
	Compression Compression
	Encryption  string
}

// Export runs the pipeline: serialize(json|csv|xml|pdf) -> optional
// compress -> optional encrypt -> checksum.
func Export(report *Report, cfg ExportConfig) (*ExportResult, error) {
	serialized, contentType, err := serialize(report, cfg.Format)
	if err != nil {
		return nil, err
	}

	data := serialized
	if cfg.Compression != CompressionNone {
		data, err = compress(data, cfg.Compression, cfg.Format)
		if err != nil {
			return nil, err
		}
	}

	encryption := ""
	if len(cfg.EncryptionKey) > 0 {
		data, err = encrypt(data, cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		encryption = "AES-256-GCM"
		if cfg.EncryptionKeyID != "" {
			encryption += ":" + cfg.EncryptionKeyID
		}
	}

	sum := sha256.Sum256(data)

	return &ExportResult{
		ExportID:    uuid.NewString(),
		Format:      cfg.Format,
		Bytes:       data,
		ContentType: contentType,
		Filename:    filename(report.Metadata.ReportID, cfg.Format, cfg.Compression),
		Size:        len(data),
		Checksum:    hex.EncodeToString(sum[:]),
		Compression: cfg.Compression,
		Encryption:  encryption,
	}, nil
}

func filename(reportID string, format Format, compression Compression) string {
	name := fmt.Sprintf("%s.%s", reportID, format)
	switch compression {
	case CompressionGzip:
		name += ".gz"
	case CompressionZip:
		name += ".zip"
	}
	return name
}

func serialize(report *Report, format Format) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		b, err := json.Marshal(report)
		return b, "application/json", err
	case FormatCSV:
		b, err := serializeCSV(report)
		return b, "text/csv", err
	case FormatXML:
		b, err := xml.MarshalIndent(report, "", "  ")
		return b, "application/xml", err
	case FormatPDF:
		b, err := renderPDF(report)
		return b, "application/pdf", err
	default:
		return nil, "", aerrors.New(aerrors.KindValidation, "compliance", "unsupported export format: "+string(format))
	}
}

func serializeCSV(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "timestamp", "action", "status", "principalId", "organizationId", "targetResourceType", "targetResourceId", "dataClassification"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, e := range report.Events {
		row := []string{
			e.ID.String(), e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			e.Action, e.Status, e.PrincipalID, e.OrganizationID,
			e.TargetResourceType, e.TargetResourceID, e.DataClassification,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compress(data []byte, compression Compression, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch compression {
	case CompressionGzip:
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
	case CompressionZip:
		zw := zip.NewWriter(&buf)
		f, err := zw.Create("report." + string(format))
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		return data, nil
	}
	return buf.Bytes(), nil
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindCrypto, "compliance", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindCrypto, "compliance", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, aerrors.Wrap(aerrors.KindCrypto, "compliance", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt reverses encrypt. Nothing in this package calls it; the export
// path only encrypts.
func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindCrypto, "compliance", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindCrypto, "compliance", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, aerrors.New(aerrors.KindCrypto, "compliance", "ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, aerrors.New(aerrors.KindIntegrity, "compliance", "decryption failed")
	}
	return plaintext, nil
}
