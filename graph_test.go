package mts_test

import (
	"math"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mts "github.com/cdsframework/mts-support-core-sub000"
	"github.com/cdsframework/mts-support-core-sub000/internal/testmodels"
)

func persistedAddress(id int64) *testmodels.Address {
	a := mts.New[testmodels.Address]()
	a.AddressID = id
	a.Line1 = "1 Main St"
	a.Base().Reset()
	return a
}

func TestPrimaryKeyRoundTrip(t *testing.T) {
	p := mts.New[testmodels.Patient]()
	require.NoError(t, mts.SetPrimaryKey(p, "abc"))
	key, err := mts.GetPrimaryKey(p)
	require.NoError(t, err)
	assert.Equal(t, "abc", key)
	assert.Equal(t, mts.StateNewModified, p.Base().State())

	org := mts.New[testmodels.Organization]()
	require.NoError(t, mts.SetPrimaryKey(org, int64(42)))
	key, err = mts.GetPrimaryKey(org)
	require.NoError(t, err)
	assert.Equal(t, int64(42), key)

	// narrower and unsigned inputs widen to the declared type
	for _, in := range []interface{}{int32(9), uint8(9), 9, float64(9)} {
		a := mts.New[testmodels.Address]()
		require.NoError(t, mts.SetPrimaryKey(a, in), "%T", in)
		key, err := mts.GetPrimaryKey(a)
		require.NoError(t, err)
		assert.Equal(t, int64(9), key)
	}
}

func TestPrimaryKeyUnsetIsNil(t *testing.T) {
	key, err := mts.GetPrimaryKey(mts.New[testmodels.Patient]())
	require.NoError(t, err)
	assert.Nil(t, key)

	set, err := mts.IsPrimaryKeySet(mts.New[testmodels.Patient]())
	require.NoError(t, err)
	assert.False(t, set)

	// a zero scalar key reads back as unset
	a := mts.New[testmodels.Address]()
	require.NoError(t, mts.SetPrimaryKey(a, 0))
	key, err = mts.GetPrimaryKey(a)
	require.NoError(t, err)
	assert.Nil(t, key)
	set, err = mts.IsPrimaryKeySet(a)
	require.NoError(t, err)
	assert.False(t, set)
}

func TestPrimaryKeyRejectsBadValues(t *testing.T) {
	err := mts.SetPrimaryKey(mts.New[testmodels.Patient](), 3.5)
	assert.True(t, mts.IsInvalidArgument(err), "got %v", err)

	err = mts.SetPrimaryKey(mts.New[testmodels.Address](), 1.5)
	assert.True(t, mts.IsPrecisionLoss(err), "got %v", err)

	err = mts.SetPrimaryKey(mts.New[testmodels.Address](), uint64(math.MaxUint64))
	assert.True(t, mts.IsPrecisionLoss(err), "got %v", err)

	_, err = mts.GetPrimaryKey(mts.New[testmodels.AuditLog]())
	assert.True(t, mts.IsConfiguration(err))
}

func TestCompositePrimaryKey(t *testing.T) {
	enc := mts.New[testmodels.Encounter]()
	require.NoError(t, mts.SetPrimaryKey(enc, map[string]interface{}{"PatientID": "p-1", "Sequence": 3}))
	assert.Equal(t, "p-1", enc.PatientID)
	assert.Equal(t, int32(3), enc.Sequence)

	key, err := mts.GetPrimaryKey(enc)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"PatientID": "p-1", "Sequence": int32(3)}, key)

	err = mts.SetPrimaryKey(enc, map[string]interface{}{"PatientID": "p-1"})
	assert.True(t, mts.IsInvalidArgument(err))
	err = mts.SetPrimaryKey(enc, map[string]interface{}{"PatientID": "p-1", "Seq": 3})
	assert.True(t, mts.IsInvalidArgument(err))
	err = mts.SetPrimaryKey(enc, "p-1")
	assert.True(t, mts.IsInvalidArgument(err))
	err = mts.SetPrimaryKey(enc, map[string]interface{}{"PatientID": "p-1", "Sequence": int64(math.MaxInt64)})
	assert.True(t, mts.IsPrecisionLoss(err))
}

func TestCompositePrimaryKeyIsAllOrNothing(t *testing.T) {
	enc := mts.New[testmodels.Encounter]()
	enc.PatientID = "p-1"
	enc.Sequence = 1
	enc.Base().Reset()

	err := mts.SetPrimaryKey(enc, map[string]interface{}{"PatientID": "p-9", "Sequence": "bad"})
	assert.True(t, mts.IsInvalidArgument(err), "got %v", err)
	assert.Equal(t, "p-1", enc.PatientID)
	assert.Equal(t, int32(1), enc.Sequence)
	assert.Equal(t, mts.StateUnset, enc.Base().State())
	assert.Empty(t, enc.Base().ChangeEvents())

	note := mts.New[testmodels.EncounterNote]()
	note.Base().Reset()
	err = mts.SetPrimaryKey(note, map[string]interface{}{
		"Encounter": map[string]interface{}{"PatientID": "p-1", "Sequence": 2},
		"Line":      1.5,
	})
	assert.True(t, mts.IsPrecisionLoss(err), "got %v", err)
	assert.Nil(t, note.Encounter)
	assert.Empty(t, note.Base().ChangeEvents())
}

func TestReferenceInPrimaryKey(t *testing.T) {
	note := mts.New[testmodels.EncounterNote]()
	encKey := map[string]interface{}{"PatientID": "p-1", "Sequence": int32(2)}
	require.NoError(t, mts.SetPrimaryKey(note, map[string]interface{}{"Encounter": encKey, "Line": 4}))

	require.NotNil(t, note.Encounter)
	assert.Equal(t, "p-1", note.Encounter.PatientID)
	assert.Equal(t, int16(4), note.Line)

	key, err := mts.GetPrimaryKey(note)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"Encounter": encKey, "Line": int16(4)}, key)
}

func TestAutoSetPrimaryKeys(t *testing.T) {
	p := mts.New[testmodels.Patient]()
	require.NoError(t, mts.AutoSetPrimaryKeys(p))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), p.PatientID)
	assert.Equal(t, mts.StateNewModified, p.Base().State())

	err := mts.AutoSetPrimaryKeys(p)
	assert.True(t, mts.IsConfiguration(err), "second generation must fail")

	a := mts.New[testmodels.Address]()
	require.NoError(t, mts.AutoSetPrimaryKeys(a))
	assert.Positive(t, a.AddressID)

	err = mts.AutoSetPrimaryKeys(mts.New[testmodels.Organization]())
	assert.True(t, mts.IsConfiguration(err), "sequence keys are not generated in process")

	err = mts.AutoSetPrimaryKeys(mts.New[testmodels.AuditLog]())
	assert.True(t, mts.IsConfiguration(err))
}

func TestAutoSetPrimaryKeysHonorsConfig(t *testing.T) {
	original := mts.CurrentConfig()
	t.Cleanup(func() { require.NoError(t, mts.Configure(original)) })

	cfg := mts.DefaultConfig()
	cfg.TextKeyLength = 10
	cfg.AutoKeyMin = 100
	cfg.AutoKeyMax = 105
	require.NoError(t, mts.Configure(cfg))

	p := mts.New[testmodels.Patient]()
	require.NoError(t, mts.AutoSetPrimaryKeys(p))
	assert.Len(t, p.PatientID, 10)

	for i := 0; i < 20; i++ {
		a := mts.New[testmodels.Address]()
		require.NoError(t, mts.AutoSetPrimaryKeys(a))
		assert.GreaterOrEqual(t, a.AddressID, int64(100))
		assert.Less(t, a.AddressID, int64(105))
	}
}

func TestForeignKeys(t *testing.T) {
	a := mts.New[testmodels.Address]()
	require.NoError(t, mts.SetForeignKey(a, mts.TypeOf[testmodels.Patient](), "p-9", ""))
	assert.Equal(t, "p-9", a.PatientID)
	fk, err := mts.GetForeignKey(a, mts.TypeOf[testmodels.Patient](), "")
	require.NoError(t, err)
	assert.Equal(t, "p-9", fk)

	enc := mts.New[testmodels.Encounter]()
	org := mts.TypeOf[testmodels.Organization]()

	err = mts.SetForeignKey(enc, org, int64(5), "")
	assert.True(t, mts.IsConfiguration(err), "two fields reference Organization")

	require.NoError(t, mts.SetForeignKey(enc, org, 5, "provider"))
	require.NotNil(t, enc.Provider)
	assert.Equal(t, int64(5), enc.Provider.OrgID)
	assert.Nil(t, enc.Facility)

	require.NoError(t, mts.SetForeignKey(enc, org, map[string]interface{}{"provider": 6, "facility": 7}, ""))
	assert.Equal(t, int64(6), enc.Provider.OrgID)
	assert.Equal(t, int64(7), enc.Facility.OrgID)
	fk, err = mts.GetForeignKey(enc, org, "facility")
	require.NoError(t, err)
	assert.Equal(t, int64(7), fk)

	err = mts.SetForeignKey(enc, mts.TypeOf[testmodels.AuditLog](), 1, "")
	assert.True(t, mts.IsConfiguration(err))
}

func TestForeignKeyMapIsAllOrNothing(t *testing.T) {
	enc := mts.New[testmodels.Encounter]()
	enc.Base().Reset()
	org := mts.TypeOf[testmodels.Organization]()

	err := mts.SetForeignKey(enc, org, map[string]interface{}{"provider": 6, "facility": "x"}, "")
	assert.True(t, mts.IsInvalidArgument(err), "got %v", err)
	assert.Nil(t, enc.Provider)
	assert.Nil(t, enc.Facility)

	err = mts.SetForeignKey(enc, org, map[string]interface{}{"provider": 6, "clinic": 7}, "")
	assert.Error(t, err)
	assert.Nil(t, enc.Provider)
	assert.Equal(t, mts.StateUnset, enc.Base().State())
	assert.Empty(t, enc.Base().ChangeEvents())
}

func TestForeignKeyCompositeReference(t *testing.T) {
	note := mts.New[testmodels.EncounterNote]()
	key := map[string]interface{}{"PatientID": "p-1", "Sequence": 8}
	require.NoError(t, mts.SetForeignKey(note, mts.TypeOf[testmodels.Encounter](), key, ""))

	require.NotNil(t, note.Encounter)
	assert.Equal(t, int32(8), note.Encounter.Sequence)
}

func TestForeignKeyAcceptsEntity(t *testing.T) {
	enc := mts.New[testmodels.Encounter]()
	provider := mts.New[testmodels.Organization]()
	provider.OrgID = 11

	require.NoError(t, mts.SetForeignKey(enc, mts.TypeOf[testmodels.Organization](), provider, "provider"))
	assert.Same(t, provider, enc.Provider)
}

func TestEquality(t *testing.T) {
	a, b := mts.New[testmodels.Patient](), mts.New[testmodels.Patient]()
	eq, err := mts.Equal(a, b)
	require.NoError(t, err)
	assert.False(t, eq, "distinct new instances without keys")

	eq, err = mts.Equal(a, a)
	require.NoError(t, err)
	assert.True(t, eq)

	x, y := testmodels.Sample(), testmodels.Sample()
	y.LastName = "Other"
	eq, err = mts.Equal(x, y)
	require.NoError(t, err)
	assert.True(t, eq, "equal keys make equal entities")

	hx, err := mts.Hash(x)
	require.NoError(t, err)
	hy, err := mts.Hash(y)
	require.NoError(t, err)
	assert.Equal(t, hx, hy)

	addr := persistedAddress(1)
	org := mts.New[testmodels.Organization]()
	org.OrgID = 1
	eq, err = mts.Equal(addr, org)
	require.NoError(t, err)
	assert.False(t, eq, "different classes are never equal")
}

func TestEqualityWithoutKey(t *testing.T) {
	p := mts.New[testmodels.Patient]()
	h1, err := mts.Hash(p)
	require.NoError(t, err)
	h2, err := mts.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	p.Base().Reset()
	_, err = mts.Hash(p)
	assert.True(t, mts.IsErrorType(err, mts.ErrorTypeState))

	_, err = mts.Equal(p, testmodels.Sample())
	assert.True(t, mts.IsErrorType(err, mts.ErrorTypeState))

	log := mts.New[testmodels.AuditLog]()
	log.Base().Reset()
	_, err = mts.Hash(log)
	assert.Error(t, err)
}

func TestNewEntitiesCompareByToken(t *testing.T) {
	a, b := mts.New[testmodels.Address](), mts.New[testmodels.Address]()
	a.AddressID, b.AddressID = 5, 5

	eq, err := mts.Equal(a, b)
	require.NoError(t, err)
	assert.False(t, eq, "new instances with equal keys are distinct")

	ha, err := mts.Hash(a)
	require.NoError(t, err)
	hb, err := mts.Hash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	// a key assigned while NEW does not change the hash
	c := mts.New[testmodels.Address]()
	before, err := mts.Hash(c)
	require.NoError(t, err)
	require.NoError(t, mts.SetPrimaryKey(c, 5))
	after, err := mts.Hash(c)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	eq, err = mts.Equal(a, persistedAddress(5))
	require.NoError(t, err)
	assert.False(t, eq, "a new instance never equals a persisted one")

	ha, err = mts.Hash(persistedAddress(5))
	require.NoError(t, err)
	hb, err = mts.Hash(persistedAddress(5))
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestOperationalState(t *testing.T) {
	p := testmodels.Sample()
	state, err := mts.OperationalState(p)
	require.NoError(t, err)
	assert.Equal(t, mts.StateUnset, state)

	a := persistedAddress(1)
	p.Base().SetChildren("addresses", []mts.Entity{a})
	a.SetCity("Boston")
	state, err = mts.OperationalState(p)
	require.NoError(t, err)
	assert.Equal(t, mts.StateUpdated, state)

	// references are consulted before children
	p.Organization = mts.New[testmodels.Organization]()
	state, err = mts.OperationalState(p)
	require.NoError(t, err)
	assert.Equal(t, mts.StateNew, state)

	// an entity's own state wins
	p.SetLastName("Roe")
	state, err = mts.OperationalState(p)
	require.NoError(t, err)
	assert.Equal(t, mts.StateUpdated, state)
}

func TestOperationalStateDescendsGrandchildren(t *testing.T) {
	p := testmodels.Sample()
	enc := mts.New[testmodels.Encounter]()
	enc.Base().Reset()
	note := mts.New[testmodels.EncounterNote]()
	note.Base().Delete(false)

	enc.Base().SetChildren("notes", []mts.Entity{note})
	p.Base().SetChildren("encounters", []mts.Entity{enc})

	state, err := mts.OperationalState(p)
	require.NoError(t, err)
	assert.Equal(t, mts.StateDeleted, state)
}

func TestAddOrUpdateChildReplacesByKey(t *testing.T) {
	p := testmodels.Sample()
	first := persistedAddress(1)
	second := persistedAddress(1)
	second.SetCity("Salem")

	require.NoError(t, mts.AddOrUpdateChild(p, first))
	require.NoError(t, mts.AddOrUpdateChild(p, second))

	children := p.Base().Children("addresses")
	require.Len(t, children, 1)
	assert.Same(t, second, children[0])
	assert.Equal(t, mts.StateUpdated, children[0].Base().State())
}

func TestAddOrUpdateChildKeepsDeletedSlot(t *testing.T) {
	p := testmodels.Sample()
	first := persistedAddress(1)
	first.Base().Delete(false)
	second := persistedAddress(1)

	require.NoError(t, mts.AddOrUpdateChild(p, first))
	require.NoError(t, mts.AddOrUpdateChild(p, second))

	children := p.Base().Children("addresses")
	require.Len(t, children, 2)
	assert.Same(t, first, children[0])
	assert.Same(t, second, children[1])
}

func TestAddOrUpdateChildPositions(t *testing.T) {
	p := testmodels.Sample()
	a, b, c := mts.New[testmodels.Address](), mts.New[testmodels.Address](), mts.New[testmodels.Address]()

	require.NoError(t, mts.AddOrUpdateChild(p, a))
	require.NoError(t, mts.AddOrUpdateChild(p, b))
	require.NoError(t, mts.AddOrUpdateChild(p, c, 0))
	assert.Equal(t, []mts.Entity{c, a, b}, p.Base().Children("addresses"))

	// new children with equal (unset) keys are never merged
	require.NoError(t, mts.AddOrUpdateChild(p, mts.New[testmodels.Address](), 99))
	assert.Len(t, p.Base().Children("addresses"), 4)
}

func TestAddOrUpdateChildInsertsUnmatchedAtPosition(t *testing.T) {
	p := testmodels.Sample()
	first, second, third := persistedAddress(1), persistedAddress(2), persistedAddress(3)

	require.NoError(t, mts.AddOrUpdateChild(p, first))
	require.NoError(t, mts.AddOrUpdateChild(p, second))
	require.NoError(t, mts.AddOrUpdateChild(p, third, 0))
	assert.Equal(t, []mts.Entity{third, first, second}, p.Base().Children("addresses"))

	// a match still replaces in place and ignores the position
	replacement := persistedAddress(2)
	require.NoError(t, mts.AddOrUpdateChild(p, replacement, 0))
	assert.Equal(t, []mts.Entity{third, first, replacement}, p.Base().Children("addresses"))
}

func TestAddOrUpdateChildByToken(t *testing.T) {
	p := testmodels.Sample()
	a := persistedAddress(3)

	require.NoError(t, mts.AddOrUpdateChildByToken(p, "billingAddresses", a))
	assert.Empty(t, p.Base().Children("addresses"))
	assert.Len(t, p.Base().Children("billingAddresses"), 1)

	err := mts.AddOrUpdateChildByToken(p, "encounters", a)
	assert.True(t, mts.IsConfiguration(err), "token holds another child type")

	err = mts.AddOrUpdateChildByToken(p, "unknown", a)
	assert.True(t, mts.IsConfiguration(err))
}

func TestAddOrUpdateChildUnregistered(t *testing.T) {
	err := mts.AddOrUpdateChild(testmodels.Sample(), mts.New[testmodels.AuditLog]())
	assert.True(t, mts.IsConfiguration(err))

	err = mts.AddOrUpdateChild(persistedAddress(1), persistedAddress(2))
	assert.True(t, mts.IsConfiguration(err))
}

func TestSetField(t *testing.T) {
	p := testmodels.Sample()

	require.NoError(t, mts.SetField(p, "Weight", 70))
	assert.Equal(t, float32(70), p.Weight)
	assert.True(t, p.Base().IsPropertyChanged("Weight"))

	err := mts.SetField(p, "Weight", "heavy")
	assert.True(t, mts.IsInvalidArgument(err))

	err = mts.SetField(p, "Nickname", "JD")
	assert.True(t, mts.IsNotFound(err))

	enc := mts.New[testmodels.Encounter]()
	err = mts.SetField(enc, "Sequence", int64(1)<<40)
	assert.True(t, mts.IsPrecisionLoss(err))

	require.NoError(t, mts.SetField(enc, "Facility", int64(3)))
	assert.Equal(t, int64(3), enc.Facility.OrgID)
}
