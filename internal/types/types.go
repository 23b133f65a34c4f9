package types

import (
	"strings"
	"time"
)

// Factor is a business-factor tag from the fixed classification taxonomy
type Factor string

// Micro factors: forces inside or immediately around a company
const (
	FactorCompany     Factor = "company"     // internal events: leadership, product, strategy
	FactorCompetition Factor = "competition" // competitor moves
	FactorPartners    Factor = "partners"    // partnerships, alliances, channel
	FactorCustomers   Factor = "customers"   // customer wins, losses, demand shifts
)

// Macro factors: external environment forces
const (
	FactorEconomic     Factor = "economic"     // markets, funding, rates
	FactorGeoPolitical Factor = "geo_political" // sanctions, trade, conflict
	FactorRegulation   Factor = "regulation"   // laws, compliance, antitrust
	FactorTechnology   Factor = "technology"   // technology shifts, breakthroughs
	FactorEnvironment  Factor = "environment"  // climate, sustainability pressure
	FactorSupplyChain  Factor = "supply_chain" // logistics, shortages, sourcing
)

// MicroFactors is the set of valid micro-factor tags
var MicroFactors = map[Factor]bool{
	FactorCompany:     true,
	FactorCompetition: true,
	FactorPartners:    true,
	FactorCustomers:   true,
}

// MacroFactors is the set of valid macro-factor tags
var MacroFactors = map[Factor]bool{
	FactorEconomic:     true,
	FactorGeoPolitical: true,
	FactorRegulation:   true,
	FactorTechnology:   true,
	FactorEnvironment:  true,
	FactorSupplyChain:  true,
}

// ValidMicroFactor reports whether s names a micro factor (case-insensitive)
func ValidMicroFactor(s string) (Factor, bool) {
	f := Factor(strings.ToLower(strings.TrimSpace(s)))
	return f, MicroFactors[f]
}

// ValidMacroFactor reports whether s names a macro factor (case-insensitive)
func ValidMacroFactor(s string) (Factor, bool) {
	f := Factor(strings.ToLower(strings.TrimSpace(s)))
	return f, MacroFactors[f]
}

// SourceType identifies which catalog a content item came from
type SourceType string

const (
	SourceCompany    SourceType = "company"
	SourceTechnology SourceType = "technology"
)

// Company is a catalog record loaded from the companies directory
type Company struct {
	ID          string        `json:"id"`   // folder slug
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
	Category    string        `json:"category,omitempty"` // e.g. ai, fintech, infra
	Path        string        `json:"path"`               // catalog folder on disk
	Content     []ContentItem `json:"content,omitempty"`
}

// Technology is a catalog record loaded from the technologies directory
type Technology struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
	Category    string        `json:"category,omitempty"`
	Path        string        `json:"path"`
	Content     []ContentItem `json:"content,omitempty"`
}

// ContentItem is one unstructured document belonging to a catalog entry
type ContentItem struct {
	ID        string     `json:"id"`   // catalog-relative: <source>/<entry>/<file>
	Path      string     `json:"path"` // absolute path on disk
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	UpdatedAt time.Time  `json:"updated_at"` // frontmatter date, else file mtime
	Source    SourceType `json:"source"`
	ParentID  string     `json:"parent_id"`   // owning company/technology slug
	ParentName string    `json:"parent_name"` // display name of the owner
}

// Entities are the named things a moment involves
type Entities struct {
	Companies    []string `json:"companies,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	People       []string `json:"people,omitempty"`
	Locations    []string `json:"locations,omitempty"`
}

// All returns every entity name across categories
func (e Entities) All() []string {
	out := make([]string, 0, len(e.Companies)+len(e.Technologies)+len(e.People)+len(e.Locations))
	out = append(out, e.Companies...)
	out = append(out, e.Technologies...)
	out = append(out, e.People...)
	out = append(out, e.Locations...)
	return out
}

// Timeline anchors a moment in time. Dates are day-resolution.
type Timeline struct {
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	IsEstimated bool       `json:"is_estimated,omitempty"` // model guessed rather than read a date
}

// PivotalMoment is an extracted business-relevant event with impact and
// classification. The correlation pass may raise Impact above the model's
// original estimate.
type PivotalMoment struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Impact       float64    `json:"impact"` // 0-100
	MicroFactors []Factor   `json:"micro_factors,omitempty"`
	MacroFactors []Factor   `json:"macro_factors,omitempty"`
	Entities     Entities   `json:"entities"`
	Keywords     []string   `json:"keywords,omitempty"`
	Timeline     Timeline   `json:"timeline"`
	SourceID     string     `json:"source_id"`   // content item ID this came from
	SourcePath   string     `json:"source_path"`
	SourceType   SourceType `json:"source_type"`
	ExtractedAt  time.Time  `json:"extracted_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Factors returns micro and macro tags as one slice
func (m *PivotalMoment) Factors() []Factor {
	out := make([]Factor, 0, len(m.MicroFactors)+len(m.MacroFactors))
	out = append(out, m.MicroFactors...)
	out = append(out, m.MacroFactors...)
	return out
}

// When returns the moment's anchor time for windowing: timeline start if
// present, else extraction time.
func (m *PivotalMoment) When() time.Time {
	if m.Timeline.Start != nil {
		return *m.Timeline.Start
	}
	return m.ExtractedAt
}

// Correlation links two moments that scored above the similarity threshold
// inside one temporal window.
type Correlation struct {
	ID             string    `json:"id"`
	MomentA        string    `json:"moment_a"`
	MomentB        string    `json:"moment_b"`
	Score          float64   `json:"score"`
	Window         string    `json:"window"` // e.g. 2026-03-02..2026-03-15
	SharedEntities []string  `json:"shared_entities,omitempty"`
	SharedFactors  []string  `json:"shared_factors,omitempty"`
	SharedKeywords []string  `json:"shared_keywords,omitempty"`
	SameSource     bool      `json:"same_source"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChangeSet classifies catalog content against the analysis cache
type ChangeSet struct {
	New       []ContentItem `json:"new"`
	Modified  []ContentItem `json:"modified"`
	Unchanged []ContentItem `json:"unchanged"`
	Removed   []string      `json:"removed"` // cached item IDs with no live file
}

// Total returns the number of live items in the set
func (c *ChangeSet) Total() int {
	return len(c.New) + len(c.Modified) + len(c.Unchanged)
}

// Dirty returns the items that need (re-)extraction
func (c *ChangeSet) Dirty() []ContentItem {
	out := make([]ContentItem, 0, len(c.New)+len(c.Modified))
	out = append(out, c.New...)
	out = append(out, c.Modified...)
	return out
}

// AnalysisResult summarizes one engine run
type AnalysisResult struct {
	Mode           string        `json:"mode"` // incremental, full
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	ItemsTotal     int           `json:"items_total"`
	ItemsAnalyzed  int           `json:"items_analyzed"`
	ItemsSkipped   int           `json:"items_skipped"`
	ItemsRemoved   int           `json:"items_removed"`
	MomentsNew     int           `json:"moments_new"`
	MomentsKept    int           `json:"moments_kept"`
	Correlations   int           `json:"correlations"`
	ImpactBoosts   int           `json:"impact_boosts"`
	Provider       string        `json:"provider"`
	Errors         []string      `json:"errors,omitempty"`
}

// ProviderState is the health-monitor judgment of one provider
type ProviderState string

const (
	ProviderHealthy  ProviderState = "healthy"
	ProviderDegraded ProviderState = "degraded" // failing but below the down threshold
	ProviderDown     ProviderState = "down"
	ProviderUnknown  ProviderState = "unknown" // not yet checked
)

// ProviderStatus is one provider's current health record
type ProviderStatus struct {
	Name         string        `json:"name"`
	State        ProviderState `json:"state"`
	Failures     int           `json:"consecutive_failures"`
	Successes    int           `json:"consecutive_successes"`
	LastChecked  time.Time     `json:"last_checked"`
	LastError    string        `json:"last_error,omitempty"`
	LastLatency  time.Duration `json:"last_latency"`
}

// AlertLevel grades monitor alerts
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
	AlertRecovery AlertLevel = "recovery"
)

// Alert is raised by the health monitor on provider state transitions
type Alert struct {
	Level     AlertLevel `json:"level"`
	Provider  string     `json:"provider"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}
