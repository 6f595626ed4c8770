package compliance

import (
	"bytes"
	"fmt"
	"strings"
)

// renderPDF builds a minimal single-page PDF summarizing report, by hand.
// No example repo in the retrieval pack vendors a PDF library with a
// stable API, so this is the platform's one hand-rolled serialization
// format; it emits just enough PDF 1.4 structure (catalog, page, content
// stream with Helvetica text) to be a valid, openable document.
func renderPDF(report *Report) ([]byte, error) {
	lines := []string{
		fmt.Sprintf("Report %s (%s)", report.Metadata.ReportID, report.Metadata.ReportType),
		fmt.Sprintf("Generated %s by %s", report.Metadata.GeneratedAt.Format("2006-01-02T15:04:05Z"), report.Metadata.GeneratedBy),
		fmt.Sprintf("Total events: %d", report.Metadata.TotalEvents),
		fmt.Sprintf("Unique principals: %d  Unique resources: %d", report.Summary.UniquePrincipals, report.Summary.UniqueResources),
		fmt.Sprintf("Integrity violations: %d", report.Summary.IntegrityViolations),
	}

	var content bytes.Buffer
	content.WriteString("BT /F1 11 Tf 50 770 Td 14 TL\n")
	for _, line := range lines {
		content.WriteString("(" + escapePDFText(line) + ") Tj T*\n")
	}
	content.WriteString("ET")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, 0, 5)
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	writeObj("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	writeObj("3 0 obj\n<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 4 0 R >> >> /MediaBox [0 0 612 792] /Contents 5 0 R >>\nendobj\n")
	writeObj("4 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	writeObj(fmt.Sprintf("5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", content.Len(), content.String()))

	xrefStart := buf.Len()
	buf.WriteString(fmt.Sprintf("xref\n0 %d\n", len(offsets)+1))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", off))
	}
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", len(offsets)+1, xrefStart))

	return buf.Bytes(), nil
}

func escapePDFText(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)")
	return r.Replace(s)
}
