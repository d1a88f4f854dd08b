// Package gate decides whether a contact record may become a canonical person.
package gate

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/blacklist"
	"github.com/Ramsey-B/fern/pkg/classifier"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Rule identifies which gate rule produced a decision
type Rule string

const (
	RuleNoContact        Rule = "no_contact_identifier"
	RuleOrgEmail         Rule = "organizational_email"
	RuleBlacklisted      Rule = "blacklisted_identifier"
	RuleMissingFirstName Rule = "missing_first_name"
	RuleNotPerson        Rule = "name_not_person"
	RuleAccepted         Rule = "accepted"
)

// DefaultMinPhoneDigits is the shortest phone number that counts as a usable contact
const DefaultMinPhoneDigits = 10

// DefaultGenericMailboxes are local parts of shared role mailboxes
var DefaultGenericMailboxes = []string{
	"info", "office", "admin", "support", "contact", "hello", "help", "sales", "team",
	"noreply", "no-reply", "donotreply", "webmaster", "billing", "accounts", "frontdesk",
	"reception", "adopt", "adoptions", "volunteer", "volunteers", "foster", "fosters",
	"rescue", "mail", "general", "inquiries", "enquiries", "clinic", "appointments",
}

// Config controls the organizational email rules of the gate
type Config struct {
	OrgDomains       []string `yaml:"org_domains"`
	GenericMailboxes []string `yaml:"generic_mailboxes"`
	MinPhoneDigits   int      `yaml:"min_phone_digits"`
}

// DefaultConfig returns the gate defaults
func DefaultConfig() Config {
	return Config{
		GenericMailboxes: append([]string(nil), DefaultGenericMailboxes...),
		MinPhoneDigits:   DefaultMinPhoneDigits,
	}
}

// Decision is the gate verdict together with the rule that fired
type Decision struct {
	Allowed   bool                 `json:"allowed"`
	Rule      Rule                 `json:"rule"`
	NameClass classifier.NameClass `json:"name_class,omitempty"`
}

// Gate evaluates person eligibility. It is a pure function of its inputs and the
// injected configuration and blacklist.
type Gate struct {
	blacklist      blacklist.Registry
	orgDomains     map[string]bool
	mailboxes      map[string]bool
	minPhoneDigits int
}

// New creates a gate
func New(cfg Config, registry blacklist.Registry) *Gate {
	if registry == nil {
		registry = blacklist.NewStatic(nil)
	}
	if cfg.MinPhoneDigits <= 0 {
		cfg.MinPhoneDigits = DefaultMinPhoneDigits
	}
	g := &Gate{
		blacklist:      registry,
		orgDomains:     make(map[string]bool, len(cfg.OrgDomains)),
		mailboxes:      make(map[string]bool, len(cfg.GenericMailboxes)),
		minPhoneDigits: cfg.MinPhoneDigits,
	}
	for _, d := range cfg.OrgDomains {
		g.orgDomains[strings.ToLower(strings.TrimSpace(d))] = true
	}
	for _, m := range cfg.GenericMailboxes {
		g.mailboxes[strings.ToLower(strings.TrimSpace(m))] = true
	}
	return g
}

// ShouldCreatePersonEntity reports whether the record may become a canonical person
func (g *Gate) ShouldCreatePersonEntity(firstName, lastName, email, phone string) bool {
	return g.Evaluate(firstName, lastName, email, phone).Allowed
}

// Evaluate applies the rules in order; the first matching rule wins.
func (g *Gate) Evaluate(firstName, lastName, email, phone string) Decision {
	normEmail, emailErr := normalizers.NormalizeEmail(email)
	hasEmail := emailErr == nil
	normPhone, phoneErr := normalizers.NormalizePhone(phone)
	hasPhone := phoneErr == nil && len(normPhone) >= g.minPhoneDigits

	if !hasEmail && !hasPhone {
		return Decision{Rule: RuleNoContact}
	}

	if hasEmail && g.isOrganizationalEmail(normEmail) {
		return Decision{Rule: RuleOrgEmail}
	}

	if hasEmail && g.effectivelyBlocked(models.IdentifierEmail, normEmail) {
		return Decision{Rule: RuleBlacklisted}
	}
	if phoneErr == nil && g.effectivelyBlocked(models.IdentifierPhone, normPhone) {
		return Decision{Rule: RuleBlacklisted}
	}

	if strings.TrimSpace(firstName) == "" {
		return Decision{Rule: RuleMissingFirstName}
	}

	class := classifier.ClassifyName(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if class != classifier.LikelyPerson {
		return Decision{Rule: RuleNotPerson, NameClass: class}
	}
	return Decision{Allowed: true, Rule: RuleAccepted, NameClass: class}
}

func (g *Gate) isOrganizationalEmail(email string) bool {
	domain := normalizers.EmailDomain(email)
	if g.orgDomains[domain] {
		return true
	}
	local := normalizers.EmailLocalPart(email)
	if plus := strings.IndexByte(local, '+'); plus > 0 {
		local = local[:plus]
	}
	return g.mailboxes[local]
}

func (g *Gate) effectivelyBlocked(idType models.IdentifierType, value string) bool {
	blocked, required := g.blacklist.IsBlacklisted(idType, value)
	return blocked && required >= models.EffectivelyBlockedSimilarity
}
