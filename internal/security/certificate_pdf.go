package security

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// RenderCertificatePDF lays out a one-page human-readable rendition of a
// provenance certificate, for operators who need a document to hand to a
// counterparty rather than a JSON blob.
func RenderCertificatePDF(cert Certificate) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, "Content Provenance Certificate", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued by %s on %s", cert.Issuer, cert.IssuedAt.Format("2006-01-02 15:04:05 MST")), "", 1, "C", false, 0, "")
	pdf.Ln(8)
	pdf.SetTextColor(0, 0, 0)

	rows := []struct{ label, value string }{
		{"Version", cert.Version},
		{"Data type", cert.DataType},
		{"Model name", cert.ModelName},
		{"Content size (bytes)", fmt.Sprintf("%d", cert.ContentSizeBytes)},
		{"Content hash (SHA-256)", cert.ContentHash},
		{"Provenance ID", cert.ProvenanceID},
		{"Origin proof", cert.OriginProof},
		{"Anti-scrape fingerprint", cert.AntiScrapeFingerprint},
		{"Chain hash", cert.ChainHash},
		{"Key epoch", fmt.Sprintf("%d", cert.KeyEpoch)},
		{"Entropy level", cert.EntropyLevel},
		{"Algorithm", cert.Algorithm},
	}

	pdf.SetFont("Helvetica", "B", 11)
	for _, row := range rows {
		pdf.CellFormat(55, 8, row.label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 8, row.value, "", "L", false)
		pdf.SetFont("Helvetica", "B", 11)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 6, "This certificate cryptographically binds the content hash to the issuing "+
		"deployment's secret key. Forging a valid provenance ID or origin proof requires "+
		"knowledge of that key.", "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("security: render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
