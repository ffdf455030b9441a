package security

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// builtinSignatures are user-agent fragments of widely used attack tools
var builtinSignatures = []string{
	"sqlmap",
	"nikto",
	"metasploit",
	"nmap",
	"masscan",
	"burp",
	"hydra",
	"dirbuster",
	"gobuster",
	"wfuzz",
	"zgrab",
	"acunetix",
}

// ThreatIntel holds the attack-tool signature set consulted during risk
// scoring. Refresh merges an external feed into the builtin set.
type ThreatIntel struct {
	mu         sync.RWMutex
	signatures []string
	feedURL    string
	client     *http.Client
	logger     *zap.Logger
}

// NewThreatIntel creates the signature set. feedURL may be blank.
func NewThreatIntel(logger *zap.Logger, feedURL string) *ThreatIntel {
	return &ThreatIntel{
		signatures: append([]string(nil), builtinSignatures...),
		feedURL:    feedURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// MatchUserAgent reports whether the user-agent matches a known attack tool
func (t *ThreatIntel) MatchUserAgent(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sig := range t.signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

// Refresh reloads the signature feed, one lowercase fragment per line.
// The builtin set is always retained.
func (t *ThreatIntel) Refresh(ctx context.Context) error {
	if t.feedURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.feedURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build threat feed request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch threat feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("threat feed returned status %d", resp.StatusCode)
	}

	merged := append([]string(nil), builtinSignatures...)
	seen := make(map[string]bool, len(merged))
	for _, sig := range merged {
		seen[sig] = true
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		sig := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if sig == "" || strings.HasPrefix(sig, "#") || seen[sig] {
			continue
		}
		merged = append(merged, sig)
		seen[sig] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read threat feed: %w", err)
	}

	t.mu.Lock()
	t.signatures = merged
	t.mu.Unlock()
	t.logger.Info("threat intelligence refreshed", zap.Int("signatures", len(merged)))
	return nil
}
