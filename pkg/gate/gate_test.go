package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/blacklist"
	"github.com/Ramsey-B/fern/pkg/classifier"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newTestGate() *Gate {
	cfg := DefaultConfig()
	cfg.OrgDomains = []string{"forgottenfelines.com"}
	reg := blacklist.NewStatic([]models.BlacklistEntry{
		{IdentifierType: models.IdentifierEmail, NormalizedValue: "cats.household@vetclinic.com", RequiredNameSimilarity: 1.0},
		{IdentifierType: models.IdentifierEmail, NormalizedValue: "frontdesk@vetclinic.com", RequiredNameSimilarity: 1.0},
		{IdentifierType: models.IdentifierEmail, NormalizedValue: "family@gmail.com", RequiredNameSimilarity: 0.7},
		{IdentifierType: models.IdentifierPhone, NormalizedValue: "7075550100", RequiredNameSimilarity: 0.9},
	})
	return New(cfg, reg)
}

func TestShouldCreatePersonEntity(t *testing.T) {
	g := newTestGate()

	tests := []struct {
		name     string
		first    string
		last     string
		email    string
		phone    string
		expected bool
	}{
		{"named person with email", "John", "Smith", "john@example.com", "", true},
		{"no name", "", "", "john@example.com", "", false},
		{"generic org mailbox", "John", "", "info@forgottenfelines.com", "", false},
		{"organization name", "Sonoma Humane", "", "intake@partnerorg.org", "", false},
		{"phone only", "Maria", "Lopez", "", "(707) 555-1234", true},
		{"short phone is not contact", "Maria", "Lopez", "", "555-1234", false},
		{"no contact at all", "Maria", "Lopez", "", "", false},
		{"org domain any local part", "Jane", "Doe", "jane@forgottenfelines.com", "", false},
		{"plus addressed mailbox", "Jane", "Doe", "support+cats@rescue.net", "", false},
		{"hard blacklisted email", "Jane", "Doe", "cats.household@vetclinic.com", "", false},
		{"hard blacklisted phone", "Jane", "Doe", "jane@example.com", "707-555-0100", false},
		{"soft blacklisted email passes", "Jane", "Doe", "family@gmail.com", "", true},
		{"street-type surname", "Jane", "Lane", "jane@example.com", "", true},
		{"garbage name", "TEST", "", "x@example.com", "", false},
		{"address as name", "123 Main", "St", "x@example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, g.ShouldCreatePersonEntity(tt.first, tt.last, tt.email, tt.phone))
		})
	}
}

func TestEvaluate_RuleOrder(t *testing.T) {
	g := newTestGate()

	// no contact wins over a missing name
	assert.Equal(t, RuleNoContact, g.Evaluate("", "", "", "").Rule)
	// org mailbox wins over a missing name
	assert.Equal(t, RuleOrgEmail, g.Evaluate("", "", "info@example.com", "").Rule)
	// blacklist wins over a missing name
	assert.Equal(t, RuleBlacklisted, g.Evaluate("", "", "cats.household@vetclinic.com", "").Rule)
	assert.Equal(t, RuleBlacklisted, g.Evaluate("Jane", "Doe", "cats.household@vetclinic.com", "").Rule)
	// a blacklisted role mailbox is rejected as organizational first
	assert.Equal(t, RuleOrgEmail, g.Evaluate("Jane", "Doe", "frontdesk@vetclinic.com", "").Rule)
	assert.Equal(t, RuleMissingFirstName, g.Evaluate("  ", "Smith", "john@example.com", "").Rule)

	d := g.Evaluate("Sonoma Humane", "", "intake@partnerorg.org", "")
	assert.Equal(t, RuleNotPerson, d.Rule)
	assert.Equal(t, classifier.Organization, d.NameClass)

	d = g.Evaluate("John", "Smith", "john@example.com", "")
	assert.True(t, d.Allowed)
	assert.Equal(t, RuleAccepted, d.Rule)
}

func TestEvaluate_Deterministic(t *testing.T) {
	g := newTestGate()
	first := g.Evaluate("John", "Smith", "john@example.com", "")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Evaluate("John", "Smith", "john@example.com", ""))
	}
}

func TestNew_NilRegistry(t *testing.T) {
	g := New(Config{}, nil)
	assert.True(t, g.ShouldCreatePersonEntity("John", "Smith", "", "7075551234"))
	// empty config has no generic mailboxes
	assert.True(t, g.ShouldCreatePersonEntity("John", "Smith", "info@example.com", ""))
}
