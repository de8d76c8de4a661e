package governance

import (
	"regexp"
	"strings"

	"github.com/lukaizhi5559/command-service-sub000/internal/observability"
	"github.com/lukaizhi5559/command-service-sub000/pkg/config"
)

// Category classifies a shell command by what it touches.
type Category string

const (
	CategoryOpenApp        Category = "open_app"
	CategorySystemInfo     Category = "system_info"
	CategoryFileRead       Category = "file_read"
	CategoryFileWrite      Category = "file_write"
	CategoryNetwork        Category = "network"
	CategoryProcessControl Category = "process_control"
	CategoryUnrestricted   Category = "unrestricted"
	CategoryUnknown        Category = "unknown"
)

// RiskLevel is a coarse severity tag attached to every validated command.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	RiskUnknown  RiskLevel = "unknown"
)

// Classification contains the outcome of a validation call.
type Classification struct {
	Allowed              bool      `json:"allowed"`
	Category             Category  `json:"category"`
	RiskLevel            RiskLevel `json:"riskLevel"`
	RequiresConfirmation bool      `json:"requiresConfirmation"`
	Reason               string    `json:"reason,omitempty"`
}

// blockedPatterns are tested before categorization so a destructive command
// in an otherwise-safe category is still rejected. Order matters: first
// match wins and its description becomes the reason.
var blockedPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]+\s+)*-?[a-z]*[rf][a-z]*\s+(/|~|"\$?HOME)`), "recursive delete of a filesystem root"},
	{regexp.MustCompile(`(?i):\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`(?i)\bdd\b.*\bof=/dev/`), "raw write to a block device"},
	{regexp.MustCompile(`(?i)>\s*/dev/(sd|disk|nvme|hd)`), "redirect onto a block device"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*0?777\s+/`), "world-writable permissions on a system path"},
	{regexp.MustCompile(`(?i)\b(curl|wget)\b[^|;]*\|\s*(ba|z|da|fi)?sh\b`), "download piped into a shell"},
	{regexp.MustCompile(`(?i)[;&|]\s*rm\s+(-[a-z]+\s+)*-?[a-z]*[rf]`), "chained destructive delete"},
}

var sudoPrefix = regexp.MustCompile(`(?i)^\s*(sudo|doas)\b`)

// categoryRule binds one category to its recognizer patterns. Rules are
// tested in table order and the first category with a matching pattern wins,
// so a command recognized by two categories resolves to the earlier one.
type categoryRule struct {
	category Category
	patterns []*regexp.Regexp
}

var categoryRules = []categoryRule{
	{CategoryOpenApp, compile(
		`^open\s+-a\s+`,
		`^open\b`,
		`^xdg-open\b`,
	)},
	{CategorySystemInfo, compile(
		`^(uname|sw_vers|uptime|whoami|hostname|date|id)\b`,
		`^(df|du|free|vm_stat)\b`,
		`^(ps|top|system_profiler|sysctl)\b`,
	)},
	{CategoryFileRead, compile(
		`^(ls|cat|head|tail|less|more)\b`,
		`^(find|grep|wc|file|stat|pwd|which|readlink)\b`,
	)},
	{CategoryFileWrite, compile(
		`^(touch|mkdir|cp|mv|ln|tee)\b`,
		`^rm\b`,
		`^echo\b.*>`,
	)},
	{CategoryNetwork, compile(
		`^(curl|wget|ping|dig|nslookup|host)\b`,
		`^(netstat|ifconfig|ipconfig|networksetup)\b`,
	)},
	{CategoryProcessControl, compile(
		`^(kill|killall|pkill)\b`,
		`^(launchctl|systemctl|service)\b`,
	)},
}

// categoryRisk is the fixed category→risk table.
var categoryRisk = map[Category]RiskLevel{
	CategoryOpenApp:        RiskLow,
	CategorySystemInfo:     RiskLow,
	CategoryFileRead:       RiskLow,
	CategoryFileWrite:      RiskMedium,
	CategoryNetwork:        RiskMedium,
	CategoryProcessControl: RiskHigh,
}

// confirmCategories require a human in the loop even when allowed.
var confirmCategories = map[Category]bool{
	CategoryFileWrite:      true,
	CategoryNetwork:        true,
	CategoryProcessControl: true,
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Validator classifies command strings against the loaded policy. The policy
// is immutable after construction, so one Validator is safe to share across
// concurrently running plans.
type Validator struct {
	enabled bool
	allowed map[Category]bool
	logger  *observability.Logger
}

func NewValidator(cfg config.SecurityConfig, logger *observability.Logger) *Validator {
	allowed := make(map[Category]bool, len(cfg.AllowedCategories))
	for _, c := range cfg.AllowedCategories {
		allowed[Category(c)] = true
	}
	return &Validator{
		enabled: cfg.ValidationEnabled,
		allowed: allowed,
		logger:  logger,
	}
}

// Validate classifies a command into an allowed/blocked verdict, a category,
// a risk level, and whether human confirmation is required. Deterministic and
// side-effect-free apart from audit logging.
func (v *Validator) Validate(command string) Classification {
	cls := v.classify(command)
	if v.logger != nil {
		v.logger.LogPolicyCheck(command, string(cls.Category), string(cls.RiskLevel), cls.Allowed, cls.Reason)
	}
	return cls
}

func (v *Validator) classify(command string) Classification {
	if !v.enabled {
		return Classification{
			Allowed:   true,
			Category:  CategoryUnrestricted,
			RiskLevel: RiskUnknown,
			Reason:    "validation disabled by policy",
		}
	}

	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Classification{
			Allowed:   false,
			Category:  CategoryUnknown,
			RiskLevel: RiskNone,
			Reason:    "empty command",
		}
	}

	for _, bp := range blockedPatterns {
		if bp.re.MatchString(trimmed) {
			return Classification{
				Allowed:   false,
				Category:  CategoryUnknown,
				RiskLevel: RiskCritical,
				Reason:    "blocked pattern: " + bp.reason,
			}
		}
	}

	if sudoPrefix.MatchString(trimmed) {
		return Classification{
			Allowed:   false,
			Category:  CategoryUnknown,
			RiskLevel: RiskHigh,
			Reason:    "privilege escalation prefix",
		}
	}

	category, ok := matchCategory(trimmed)
	if !ok {
		return Classification{
			Allowed:   false,
			Category:  CategoryUnknown,
			RiskLevel: RiskMedium,
			Reason:    "not in allowed categories",
		}
	}

	if !v.allowed[category] {
		return Classification{
			Allowed:   false,
			Category:  category,
			RiskLevel: RiskMedium,
			Reason:    "category '" + string(category) + "' is not in the allowed set",
		}
	}

	return Classification{
		Allowed:              true,
		Category:             category,
		RiskLevel:            categoryRisk[category],
		RequiresConfirmation: confirmCategories[category],
	}
}

func matchCategory(command string) (Category, bool) {
	for _, rule := range categoryRules {
		for _, re := range rule.patterns {
			if re.MatchString(command) {
				return rule.category, true
			}
		}
	}
	return CategoryUnknown, false
}
