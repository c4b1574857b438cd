package sessionconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
)

func TestValidateFlatLayoutOk(t *testing.T) {
	cfg := &Config{
		Algorithm: Algorithm{Curve: Secp256k1, Scheme: ElGamal},
		Threshold: 3,
		Players: PlayerLayout{Flat: map[string]bool{
			"Alice": true, "Bob": true, "Charlie": true, "David": true, "Eve": true,
		}},
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := &Config{
		Threshold: 6,
		Players:   PlayerLayout{Flat: map[string]bool{"Alice": true, "Bob": true}},
	}
	err := cfg.Validate()
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestValidateRejectsEmptyPlayerName(t *testing.T) {
	cfg := &Config{
		Threshold: 1,
		Players:   PlayerLayout{Flat: map[string]bool{"": true}},
	}
	err := cfg.Validate()
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestValidateGroupedDepartmentThreshold(t *testing.T) {
	cfg := &Config{
		Threshold: 1,
		Players: PlayerLayout{Grouped: map[string]Department{
			"dept-a": {Name: "dept-a", Threshold: 3, Players: map[string]bool{"Alice": true}},
		}},
	}
	err := cfg.Validate()
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestAttendingCountDeduplicatesAcrossDepartments(t *testing.T) {
	layout := PlayerLayout{Grouped: map[string]Department{
		"a": {Threshold: 1, Players: map[string]bool{"Alice": true}},
		"b": {Threshold: 1, Players: map[string]bool{"Alice": true, "Bob": true}},
	}}
	assert.Equal(t, 2, layout.AttendingCount())
}

func TestAllAttendTrueWhenEveryoneAttends(t *testing.T) {
	layout := PlayerLayout{Flat: map[string]bool{"Alice": true, "Bob": true}}
	assert.True(t, layout.AllAttend())
}

func TestAllAttendFalseWhenSomeoneIsAbsent(t *testing.T) {
	layout := PlayerLayout{Flat: map[string]bool{"Alice": true, "Bob": false}}
	assert.False(t, layout.AllAttend())
}

func TestAttendingNamesSortedAndDeduplicated(t *testing.T) {
	layout := PlayerLayout{Grouped: map[string]Department{
		"a": {Threshold: 1, Players: map[string]bool{"carol": true, "alice": true}},
		"b": {Threshold: 1, Players: map[string]bool{"alice": true, "bob": false}},
	}}
	assert.Equal(t, []string{"alice", "carol"}, layout.AttendingNames())
}

func TestAllAttendAcrossGroupedDepartments(t *testing.T) {
	layout := PlayerLayout{Grouped: map[string]Department{
		"a": {Threshold: 1, Players: map[string]bool{"Alice": true}},
		"b": {Threshold: 1, Players: map[string]bool{"Bob": false}},
	}}
	assert.False(t, layout.AllAttend())
}
