package security

import (
	"testing"
	"time"
)

func newTestManager() *KeyManager {
	return NewKeyManager([]byte("a-sufficiently-long-test-secret-key-32b"))
}

func TestIssueAndValidateKey(t *testing.T) {
	m := newTestManager()
	issued, err := m.Issue(ScopeWrite, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := m.Validate(issued.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Scope != ScopeWrite || claims.KeyID != issued.KeyID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRevokedKeyFailsValidation(t *testing.T) {
	m := newTestManager()
	issued, err := m.Issue(ScopeRead, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !m.Revoke(issued.KeyID) {
		t.Fatal("expected revoke to find the key")
	}
	if _, err := m.Validate(issued.Token); err != ErrKeyRevoked {
		t.Fatalf("expected ErrKeyRevoked, got %v", err)
	}
}

func TestValidateRejectsForeignToken(t *testing.T) {
	m1 := NewKeyManager([]byte("secret-one-that-is-long-enough-32bytes!"))
	m2 := NewKeyManager([]byte("secret-two-that-is-long-enough-32bytes!"))

	issued, err := m1.Issue(ScopeAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m2.Validate(issued.Token); err == nil {
		t.Fatal("expected validation under a different secret to fail")
	}
}

func TestRunAuditScoresDefaultsLow(t *testing.T) {
	m := newTestManager()
	report := m.RunAudit(7)
	if report.Score <= 0 || report.Score >= 100 {
		t.Fatalf("expected a middling score with nothing configured, got %d", report.Score)
	}
	if report.Passed+report.Failed != report.Total {
		t.Fatalf("passed+failed should equal total: %+v", report)
	}
}

func TestRunAuditScoreImprovesWithPosture(t *testing.T) {
	m := newTestManager()
	before := m.RunAudit(7).Score

	m.SetTwoFactor(true)
	m.SetAntiScraping(true)
	m.SetWebhook("https://example.com/hook")
	m.SetEntropyLevel("maximum")
	m.Rotate()

	after := m.RunAudit(7).Score
	if after <= before {
		t.Fatalf("expected score to improve: before=%d after=%d", before, after)
	}
}

func TestCertificateRoundTrip(t *testing.T) {
	m := newTestManager()
	content := []byte("hello watermark world")

	cert, err := m.IssueCertificate(content, "text", "gpt-test")
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	result := m.VerifyCertificate(content, "text", cert)
	if !result.Valid {
		t.Fatalf("expected valid certificate, got %+v", result)
	}
}

func TestCertificateDetectsTamperedContent(t *testing.T) {
	m := newTestManager()
	content := []byte("original content")

	cert, err := m.IssueCertificate(content, "text", "gpt-test")
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	tampered := []byte("tampered content")
	result := m.VerifyCertificate(tampered, "text", cert)
	if result.Valid || result.HashValid {
		t.Fatalf("expected tampered content to fail verification: %+v", result)
	}
}

func TestCertificateDetectsForgedProvenance(t *testing.T) {
	m1 := newTestManager()
	m2 := NewKeyManager([]byte("a-totally-different-test-secret-32bytes"))
	content := []byte("shared content")

	cert, err := m1.IssueCertificate(content, "text", "gpt-test")
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	result := m2.VerifyCertificate(content, "text", cert)
	if result.Valid || result.ProvValid {
		t.Fatalf("expected forged provenance under a different key to fail: %+v", result)
	}
}

func TestRenderCertificatePDFProducesPDFBytes(t *testing.T) {
	m := newTestManager()
	cert, err := m.IssueCertificate([]byte("some content"), "image", "gpt-test")
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	pdfBytes, err := RenderCertificatePDF(cert)
	if err != nil {
		t.Fatalf("RenderCertificatePDF: %v", err)
	}
	if len(pdfBytes) < 4 || string(pdfBytes[:4]) != "%PDF" {
		t.Fatalf("expected a PDF header, got %q", pdfBytes[:min(len(pdfBytes), 16)])
	}
}

func TestGenerateScrapingFingerprintFlagsBurst(t *testing.T) {
	m := newTestManager()
	m.rateLimitRPM = 2

	var last ScrapingFingerprint
	for i := 0; i < 5; i++ {
		fp, err := m.GenerateScrapingFingerprint("deadbeef")
		if err != nil {
			t.Fatalf("GenerateScrapingFingerprint: %v", err)
		}
		last = fp
	}
	if !last.ScrapingAlert {
		t.Fatalf("expected a scraping alert after bursting past the limit: %+v", last)
	}
}
