package agentconfig

import (
	"context"
	"os"
	"time"
)

// HealthStatus grades a provider's configuration readiness.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// worse returns the more severe of two statuses.
func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthHealthy: 0, HealthWarning: 1, HealthError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ProviderHealth is the health check outcome for one provider.
type ProviderHealth struct {
	Provider        string       `json:"provider"`
	Status          HealthStatus `json:"status"`
	Errors          []string     `json:"errors,omitempty"`
	Warnings        []string     `json:"warnings,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// HealthReport aggregates provider health to a worst-of overall status.
type HealthReport struct {
	Status    HealthStatus              `json:"status"`
	Providers map[string]ProviderHealth `json:"providers"`
	CheckedAt time.Time                 `json:"checkedAt"`
}

// PerformHealthCheck loads and validates configuration for the requested
// providers (all known providers when none are named), verifies that
// declared secret environment variables resolve to non-empty values without
// ever returning their contents, and derives qualitative recommendations.
func (m *Manager) PerformHealthCheck(ctx context.Context, providers ...string) HealthReport {
	if len(providers) == 0 {
		providers = m.Providers()
	}

	report := HealthReport{
		Status:    HealthHealthy,
		Providers: make(map[string]ProviderHealth, len(providers)),
		CheckedAt: time.Now().UTC(),
	}

	for _, provider := range providers {
		ph := m.checkProvider(ctx, provider)
		report.Providers[provider] = ph
		report.Status = worse(report.Status, ph.Status)
	}
	return report
}

func (m *Manager) checkProvider(ctx context.Context, provider string) ProviderHealth {
	ph := ProviderHealth{Provider: provider, Status: HealthHealthy}

	ser, ok := m.serializers[provider]
	if !ok {
		ph.Status = HealthError
		ph.Errors = append(ph.Errors, "unknown provider")
		return ph
	}

	resolved, err := m.GetProviderConfig(ctx, provider, "")
	if err != nil {
		ph.Status = HealthError
		ph.Errors = append(ph.Errors, err.Error())
		return ph
	}

	res := ser.Validate(resolved.Config)
	for _, fe := range res.Errors {
		ph.Errors = append(ph.Errors, fe.Field+": "+fe.Message)
	}
	for _, w := range res.Warnings {
		ph.Warnings = append(ph.Warnings, w.Field+": "+w.Message)
		if w.Suggestion != "" {
			ph.Recommendations = append(ph.Recommendations, w.Suggestion)
		}
	}
	if !res.Valid {
		ph.Status = HealthError
	} else if len(res.Warnings) > 0 {
		ph.Status = worse(ph.Status, HealthWarning)
	}

	for _, envVar := range resolved.Config.SecretEnvVars() {
		if os.Getenv(envVar) == "" {
			ph.Status = worse(ph.Status, HealthWarning)
			ph.Warnings = append(ph.Warnings, "environment variable "+envVar+" is not set")
			ph.Recommendations = append(ph.Recommendations, "set "+envVar+" before connecting")
		}
	}

	if el, ok := resolved.Config.(*ElevenLabsConfig); ok && IsPlaceholderAgentID(el.AgentID) {
		ph.Status = worse(ph.Status, HealthWarning)
		ph.Recommendations = append(ph.Recommendations, "agent id still at placeholder value")
	}

	if resolved.Synthesized() {
		ph.Recommendations = append(ph.Recommendations, "no saved configuration; serializer defaults in use")
	}

	return ph
}
