package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
)

func prop(id, name, desc, mode string) iotapi.Property {
	return iotapi.Property{Entry: iotapi.Entry{Identifier: id, Name: name, Desc: desc}, AccessMode: mode}
}

func sampleModel() iotapi.ThingModel {
	return iotapi.ThingModel{
		Properties: []iotapi.Property{
			prop("power_switch", "Switch", "", "rw"),
			prop("energy", "Energy", "controls the power usage", "r"),
			prop("temperature", "Temperature", "ambient temperature", "r"),
			prop("mode", "Mode", "working mode", "rw"),
		},
		Events: []iotapi.Entry{
			{Identifier: "power_fault", Name: "Power fault"},
		},
		Actions: []iotapi.Entry{
			{Identifier: "reboot", Name: "Reboot", Desc: "restart the device"},
		},
	}
}

func scoreOf(cands []Candidate, id string) int {
	for _, c := range cands {
		if c.Identifier == id {
			return c.Score
		}
	}
	return 0
}

func TestIdentifierOutranksDescription(t *testing.T) {
	cands := Resolve(sampleModel(), "power", Options{})
	require.NotEmpty(t, cands)

	assert.Greater(t, scoreOf(cands, "power_switch"), scoreOf(cands, "energy"))
	assert.Equal(t, 50, scoreOf(cands, "power_switch"))
	assert.Equal(t, 25, scoreOf(cands, "energy"))
}

func TestExactMatchWins(t *testing.T) {
	cands := Resolve(sampleModel(), "Mode", Options{})
	require.NotEmpty(t, cands)

	assert.Equal(t, "mode", cands[0].Identifier)
	assert.Equal(t, KindProperty, cands[0].Kind)
	// exact 100 + substring 40 + name 35 + desc 20 + tokens 10+8+5
	assert.Equal(t, 218, cands[0].Score)
}

func TestZeroScoresDropped(t *testing.T) {
	cands := Resolve(sampleModel(), "humidity", Options{})
	assert.Empty(t, cands)
}

func TestTiesKeepEncounterOrder(t *testing.T) {
	m := iotapi.ThingModel{
		Properties: []iotapi.Property{
			prop("lamp_a", "", "", "rw"),
			prop("lamp_b", "", "", "rw"),
		},
		Actions: []iotapi.Entry{{Identifier: "lamp_c"}},
	}

	cands := Resolve(m, "lamp", Options{})
	require.Len(t, cands, 3)
	assert.Equal(t, []string{"lamp_a", "lamp_b", "lamp_c"}, []string{cands[0].Identifier, cands[1].Identifier, cands[2].Identifier})
}

func TestTopKAndWritableOnly(t *testing.T) {
	// the event matches on identifier and name: 40+10+35+8
	cands := Resolve(sampleModel(), "power", Options{TopK: 1})
	require.Len(t, cands, 1)
	assert.Equal(t, "power_fault", cands[0].Identifier)
	assert.Equal(t, 93, cands[0].Score)

	cands = Resolve(sampleModel(), "power", Options{WritableOnly: true})
	for _, c := range cands {
		assert.NotEqual(t, "energy", c.Identifier, "read-only property must be filtered")
	}
	assert.Equal(t, 1, len(Resolve(sampleModel(), "power", Options{TopK: -3})))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"power", "switch"}, Tokenize("Power_Switch"))
	assert.Equal(t, []string{"set", "the", "mode"}, Tokenize("set the mode, a"))
	assert.Equal(t, []string{"温度"}, Tokenize("温度 x"))
}
