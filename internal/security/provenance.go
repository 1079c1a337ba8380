package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Certificate cryptographically binds a piece of content to its origin
// model, timestamp, and the deployment key — independent of whether the
// in-band watermark itself survives. Grounded on the prototype's
// generate_provenance_certificate: content_hash, an HMAC provenance_id,
// a keyed origin_proof, a per-issuance anti-scraping fingerprint, and a
// chain_hash binding the three together.
type Certificate struct {
	Version               string    `json:"version"`
	ContentHash           string    `json:"content_hash"`
	ContentSizeBytes      int       `json:"content_size_bytes"`
	DataType              string    `json:"data_type"`
	ModelName             string    `json:"model_name"`
	ProvenanceID          string    `json:"provenance_id"`
	OriginProof           string    `json:"origin_proof"`
	AntiScrapeFingerprint string    `json:"anti_scrape_fingerprint"`
	ChainHash             string    `json:"chain_hash"`
	IssuedAt              time.Time `json:"issued_at"`
	Issuer                string    `json:"issuer"`
	Algorithm             string    `json:"algorithm"`
	KeyEpoch              int       `json:"key_epoch"`
	EntropyLevel          string    `json:"entropy_level"`
	Claims                ClaimSet  `json:"claims"`
}

// ClaimSet mirrors the certificate's advertised protections.
type ClaimSet struct {
	IPProtection        bool `json:"ip_protection"`
	AntiScraping        bool `json:"anti_scraping"`
	TamperEvident       bool `json:"tamper_evident"`
	ProvenanceVerified  bool `json:"provenance_verified"`
}

// VerificationResult reports which individual checks passed.
type VerificationResult struct {
	Valid       bool      `json:"valid"`
	ContentHash string    `json:"content_hash"`
	HashValid   bool      `json:"content_hash_valid"`
	ProvValid   bool      `json:"provenance_id_valid"`
	OriginValid bool      `json:"origin_proof_valid"`
	ChainValid  bool      `json:"chain_integrity_valid"`
	VerifiedAt  time.Time `json:"verified_at"`
}

// IssueCertificate issues a provenance certificate over raw content bytes.
func (m *KeyManager) IssueCertificate(content []byte, dataType, modelName string) (Certificate, error) {
	m.mu.RLock()
	secret := m.secret
	epoch := m.rotationEpoch
	entropy := m.entropyLevel
	antiScraping := m.antiScrapingOn
	m.mu.RUnlock()

	if modelName == "" {
		modelName = "unknown"
	}

	now := time.Now().UTC()
	tsStr := now.Format(time.RFC3339Nano)
	contentHash := sha256Hex(content)

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Certificate{}, fmt.Errorf("security: generate nonce: %w", err)
	}

	provInput := append([]byte(contentHash), []byte(modelName)...)
	provInput = append(provInput, []byte(tsStr)...)
	provenanceID := hmacHex(provInput, secret)

	originInput := append(append([]byte{}, secret...), []byte(contentHash)...)
	originInput = append(originInput, []byte(modelName)...)
	originInput = append(originInput, []byte(tsStr)...)
	originProof := sha256Hex(originInput)

	fpInput := append([]byte(contentHash), nonce...)
	antiScrapeFP := hmacHex(fpInput, secret)

	chainMaterial := provenanceID + originProof + antiScrapeFP
	chainHash := sha256Hex([]byte(chainMaterial))

	return Certificate{
		Version:               "1.0",
		ContentHash:           contentHash,
		ContentSizeBytes:      len(content),
		DataType:              dataType,
		ModelName:             modelName,
		ProvenanceID:          provenanceID,
		OriginProof:           originProof,
		AntiScrapeFingerprint: antiScrapeFP,
		ChainHash:             chainHash,
		IssuedAt:              now,
		Issuer:                "aegis-watermark",
		Algorithm:             "HMAC-SHA256 + SHA-256",
		KeyEpoch:              epoch,
		EntropyLevel:          entropy,
		Claims: ClaimSet{
			IPProtection:       true,
			AntiScraping:       antiScraping,
			TamperEvident:      true,
			ProvenanceVerified: true,
		},
	}, nil
}

// VerifyCertificate recomputes every binding in cert against content and
// reports which checks hold. Uses constant-time comparison for the
// keyed fields so a mismatch doesn't leak timing information.
func (m *KeyManager) VerifyCertificate(content []byte, dataType string, cert Certificate) VerificationResult {
	m.mu.RLock()
	secret := m.secret
	m.mu.RUnlock()

	contentHash := sha256Hex(content)
	hashValid := contentHash == cert.ContentHash

	modelName := cert.ModelName
	if modelName == "" {
		modelName = "unknown"
	}
	tsStr := cert.IssuedAt.Format(time.RFC3339Nano)

	provInput := append([]byte(contentHash), []byte(modelName)...)
	provInput = append(provInput, []byte(tsStr)...)
	expectedProv := hmacHex(provInput, secret)
	provValid := hmac.Equal([]byte(expectedProv), []byte(cert.ProvenanceID))

	originInput := append(append([]byte{}, secret...), []byte(contentHash)...)
	originInput = append(originInput, []byte(modelName)...)
	originInput = append(originInput, []byte(tsStr)...)
	expectedOrigin := sha256Hex(originInput)
	originValid := hmac.Equal([]byte(expectedOrigin), []byte(cert.OriginProof))

	chainMaterial := cert.ProvenanceID + cert.OriginProof + cert.AntiScrapeFingerprint
	expectedChain := sha256Hex([]byte(chainMaterial))
	chainValid := hmac.Equal([]byte(expectedChain), []byte(cert.ChainHash))

	return VerificationResult{
		Valid:       hashValid && provValid && originValid && chainValid,
		ContentHash: contentHash,
		HashValid:   hashValid,
		ProvValid:   provValid,
		OriginValid: originValid,
		ChainValid:  chainValid,
		VerifiedAt:  time.Now().UTC(),
	}
}

// ScrapingFingerprint is a per-request tracking token distinct from the
// certificate's own anti-scrape field, for callers that want to mint one
// independent of issuing a full certificate (e.g. a plain verify call).
type ScrapingFingerprint struct {
	Fingerprint         string `json:"fingerprint"`
	Nonce               string `json:"nonce"`
	RequestsLastMinute  int    `json:"requests_last_minute"`
	ScrapingAlert       bool   `json:"scraping_alert"`
}

// GenerateScrapingFingerprint mints a per-request tracking fingerprint
// over contentHash and records the call for rate-based scraping
// detection (>rate_limit_rpm requests/minute raises ScrapingAlert).
func (m *KeyManager) GenerateScrapingFingerprint(contentHash string) (ScrapingFingerprint, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return ScrapingFingerprint{}, fmt.Errorf("security: generate nonce: %w", err)
	}

	now := time.Now().UTC()
	tsStr := now.Format(time.RFC3339Nano)

	m.mu.Lock()
	secret := m.secret
	limit := m.rateLimitRPM
	recent, alert := m.scrape.record(now, limit)
	m.mu.Unlock()

	fpInput := append([]byte(contentHash), nonce...)
	fpInput = append(fpInput, []byte(tsStr)...)
	fp := hmacHex(fpInput, secret)

	return ScrapingFingerprint{
		Fingerprint:        fp,
		Nonce:              hex.EncodeToString(nonce),
		RequestsLastMinute: recent,
		ScrapingAlert:      alert,
	}, nil
}

// scrapeTracker rate-tracks fingerprint issuance for the anti-scraping
// alert, mirroring the prototype's in-memory request_log.
type scrapeTracker struct {
	requests []time.Time
}

func (t *scrapeTracker) record(now time.Time, windowLimit int) (recentCount int, alert bool) {
	t.requests = append(t.requests, now)
	if len(t.requests) > 1000 {
		t.requests = t.requests[len(t.requests)-1000:]
	}
	cutoff := now.Add(-time.Minute)
	count := 0
	for _, ts := range t.requests {
		if ts.After(cutoff) {
			count++
		}
	}
	return count, count > windowLimit
}
