package mts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mts "github.com/cdsframework/mts-support-core-sub000"
	"github.com/cdsframework/mts-support-core-sub000/internal/testmodels"
)

func TestTypeRegistryLookup(t *testing.T) {
	typ, err := mts.LookupType("Patient")
	require.NoError(t, err)
	assert.Equal(t, mts.TypeOf[testmodels.Patient](), typ)

	e, err := mts.NewByName("Encounter")
	require.NoError(t, err)
	assert.IsType(t, &testmodels.Encounter{}, e)
	assert.Equal(t, mts.StateNew, e.Base().State())

	_, err = mts.NewByName("Prescription")
	assert.True(t, mts.IsNotFound(err))

	assert.Subset(t, mts.Types().List(), []string{"Address", "AuditLog", "Encounter", "Organization", "Patient"})
}

func TestTypeRegistryNames(t *testing.T) {
	// re-registering the same type under the same name is a no-op
	mts.RegisterType[testmodels.Patient]()
	assert.Equal(t, "Patient", mts.Types().NameOf(mts.TypeOf[*testmodels.Patient]()))

	mts.RegisterTypeName[testmodels.Organization]("org.registry.Organization")
	typ, err := mts.LookupType("org.registry.Organization")
	require.NoError(t, err)
	assert.Equal(t, mts.TypeOf[testmodels.Organization](), typ)

	assert.Panics(t, func() {
		mts.RegisterTypeName[testmodels.Address]("Patient")
	})
}
