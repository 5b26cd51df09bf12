package changelog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	mts "github.com/cdsframework/mts-support-core-sub000"
	"github.com/cdsframework/mts-support-core-sub000/changelog"
	"github.com/cdsframework/mts-support-core-sub000/internal/testmodels"
)

func lookup(t *testing.T, d bson.D, key string) interface{} {
	t.Helper()
	for _, e := range d {
		if e.Key == key {
			return e.Value
		}
	}
	t.Fatalf("document has no %q element", key)
	return nil
}

func keys(d bson.D) []string {
	out := make([]string, len(d))
	for i, e := range d {
		out[i] = e.Key
	}
	return out
}

func graph(t *testing.T) (*testmodels.Patient, *testmodels.Encounter) {
	t.Helper()
	p := testmodels.Sample()

	unchanged := mts.New[testmodels.Address]()
	unchanged.AddressID = 4
	unchanged.Base().Reset()
	p.Base().SetChildren("addresses", []mts.Entity{unchanged})

	enc := mts.New[testmodels.Encounter]()
	enc.PatientID = "p-1"
	enc.Sequence = 2
	p.Base().SetChildren("encounters", []mts.Entity{enc})
	return p, enc
}

func TestDocument(t *testing.T) {
	p, enc := graph(t)
	p.SetLastName("Smith")
	org := mts.New[testmodels.Organization]()
	org.OrgID = 9
	require.NoError(t, mts.SetField(p, "Organization", org))

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	doc, err := changelog.Document(p, changelog.Options{At: at})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"recorded_at", "entity", "table", "uuid", "state", "operational_state", "key", "audit", "changes", "children",
	}, keys(doc))
	assert.Equal(t, at.UTC(), lookup(t, doc, "recorded_at"))
	assert.Equal(t, "Patient", lookup(t, doc, "entity"))
	assert.Equal(t, "patient", lookup(t, doc, "table"))
	assert.Equal(t, p.Base().UUID(), lookup(t, doc, "uuid"))
	assert.Equal(t, "UPDATED", lookup(t, doc, "state"))
	assert.Equal(t, "p-1", lookup(t, doc, "key"))

	audit := lookup(t, doc, "audit").(bson.D)
	assert.Equal(t, []string{"create_id", "create_datetime", "last_mod_id", "last_mod_datetime", "audit_id"}, keys(audit))
	assert.Nil(t, lookup(t, audit, "create_datetime"))

	assert.Equal(t, bson.A{
		bson.D{
			{Key: "property", Value: "LastName"},
			{Key: "columns", Value: []string{"last_name"}},
			{Key: "old", Value: "Doe"},
			{Key: "new", Value: "Smith"},
		},
		bson.D{
			{Key: "property", Value: "Organization"},
			{Key: "columns", Value: []string{"org_id"}},
			{Key: "old", Value: nil},
			{Key: "new", Value: int64(9)},
		},
	}, lookup(t, doc, "changes"))

	children := lookup(t, doc, "children").(bson.A)
	require.Len(t, children, 1, "unchanged addresses are left out")
	group := children[0].(bson.D)
	assert.Equal(t, "encounters", lookup(t, group, "token"))

	entities := lookup(t, group, "entities").(bson.A)
	require.Len(t, entities, 1)
	encDoc := entities[0].(bson.D)
	assert.Equal(t, enc.Base().UUID(), lookup(t, encDoc, "uuid"))
	assert.Equal(t, "NEW", lookup(t, encDoc, "state"))
	assert.Equal(t, bson.D{{Key: "PatientID", Value: "p-1"}, {Key: "Sequence", Value: int32(2)}}, lookup(t, encDoc, "key"))
	assert.NotContains(t, keys(lookup(t, encDoc, "audit").(bson.D)), "audit_id")
	assert.Equal(t, bson.A{}, lookup(t, encDoc, "changes"))
}

func TestDocumentOperationalState(t *testing.T) {
	p, enc := graph(t)
	enc.Base().Reset()
	p.Base().SetChildren("encounters", []mts.Entity{enc})

	doc, err := changelog.Document(p, changelog.Options{})
	require.NoError(t, err)
	assert.Equal(t, "UNSET", lookup(t, doc, "operational_state"))
	assert.NotContains(t, keys(doc), "children")
	assert.False(t, lookup(t, doc, "recorded_at").(time.Time).IsZero())

	enc.Base().Delete(false)
	doc, err = changelog.Document(p, changelog.Options{})
	require.NoError(t, err)
	assert.Equal(t, "UNSET", lookup(t, doc, "state"))
	assert.Equal(t, "DELETED", lookup(t, doc, "operational_state"))
}

func TestDocumentIncludeUnchanged(t *testing.T) {
	p, _ := graph(t)
	doc, err := changelog.Document(p, changelog.Options{IncludeUnchanged: true})
	require.NoError(t, err)

	children := lookup(t, doc, "children").(bson.A)
	require.Len(t, children, 2)
	assert.Equal(t, "addresses", lookup(t, children[0].(bson.D), "token"))
	assert.Equal(t, "encounters", lookup(t, children[1].(bson.D), "token"))
}

func TestDocumentKeyless(t *testing.T) {
	entry := mts.New[testmodels.AuditLog]()
	entry.Message = "login"
	doc, err := changelog.Document(entry, changelog.Options{})
	require.NoError(t, err)
	assert.NotContains(t, keys(doc), "key")
	assert.Equal(t, "audit_log", lookup(t, doc, "table"))

	_, err = changelog.Document(nil, changelog.Options{})
	assert.True(t, mts.IsInvalidArgument(err))
}

func TestMarshal(t *testing.T) {
	p, _ := graph(t)
	p.SetFirstName("Janet")

	data, err := changelog.Marshal(p)
	require.NoError(t, err)

	raw := bson.Raw(data)
	require.NoError(t, raw.Validate())
	assert.Equal(t, "Patient", raw.Lookup("entity").StringValue())
	assert.Equal(t, "UPDATED", raw.Lookup("state").StringValue())
	assert.Equal(t, "p-1", raw.Lookup("key").StringValue())

	assert.Equal(t, "FirstName", raw.Lookup("changes", "0", "property").StringValue())
	assert.Equal(t, "Jane", raw.Lookup("changes", "0", "old").StringValue())
	assert.Equal(t, "Janet", raw.Lookup("changes", "0", "new").StringValue())
	assert.Equal(t, "first_name", raw.Lookup("changes", "0", "columns", "0").StringValue())
}
