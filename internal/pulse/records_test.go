package pulse

import (
	"math"
	"testing"

	"github.com/osd-bridge/osdbridge/internal/bridge"
)

func TestNormalizeSinks(t *testing.T) {
	sinks := decode(t, sinksJSON)

	rec, ok := Normalize(bridge.NativeID{Class: ClassSink, Index: 56}, sinks[0])
	if !ok {
		t.Fatal("stereo sink suppressed")
	}
	d := rec.(Device)
	if d.DomainID() != "sink:alsa_output.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("DomainID = %q", d.DomainID())
	}
	if d.Volume != 50 {
		t.Errorf("Volume = %d, want 50", d.Volume)
	}
	if d.Mute || d.State != "running" || d.ActivePort != "analog-output-speaker" {
		t.Errorf("device = %+v", d)
	}
	if !d.BaseVolumeNormal || !d.CanBalance {
		t.Fatalf("balance not available: %+v", d)
	}
	if math.Abs(d.Balance-(-0.5)) > 1e-9 {
		t.Errorf("Balance = %v, want -0.5", d.Balance)
	}

	rec, ok = Normalize(bridge.NativeID{Class: ClassSink, Index: 57}, sinks[1])
	if !ok {
		t.Fatal("surround sink suppressed")
	}
	d = rec.(Device)
	if d.Volume != 100 || !d.Mute {
		t.Errorf("surround = %+v", d)
	}
	if d.CanBalance {
		t.Error("balance offered with non-normal base volume")
	}
	if len(d.Channels) != 6 || d.Channels[5] != "front-center" {
		t.Errorf("Channels = %v", d.Channels)
	}

	if _, ok := Normalize(bridge.NativeID{Class: ClassSink, Index: 58}, sinks[2]); ok {
		t.Error("sink without volume was not suppressed")
	}
}

func TestNormalizeSource(t *testing.T) {
	sources := decode(t, sourcesJSON)
	rec, ok := Normalize(bridge.NativeID{Class: ClassSource, Index: 12}, sources[0])
	if !ok {
		t.Fatal("source suppressed")
	}
	d := rec.(Device)
	if d.Kind != KindSource || d.Volume != 70 || !d.Mute || d.CanBalance {
		t.Errorf("source = %+v", d)
	}
	if d.DomainID() != "source:alsa_input.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("DomainID = %q", d.DomainID())
	}
}

func TestNormalizeRequiredFields(t *testing.T) {
	base := func() bridge.Props {
		return decode(t, sinksJSON)[0]
	}
	tests := []struct {
		name   string
		mutate func(bridge.Props)
	}{
		{"missing index", func(p bridge.Props) { delete(p, "index") }},
		{"empty name", func(p bridge.Props) { p["name"] = "" }},
		{"missing mute", func(p bridge.Props) { delete(p, "mute") }},
		{"malformed mute", func(p bridge.Props) { p["mute"] = "sometimes" }},
		{"volume not an object", func(p bridge.Props) { p["volume"] = "50%" }},
		{"channel without value", func(p bridge.Props) {
			p["volume"] = map[string]any{"front-left": map[string]any{"db": "0 dB"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			if _, ok := Normalize(bridge.NativeID{Class: ClassSink, Index: 1}, p); ok {
				t.Error("expected suppression")
			}
		})
	}

	// Derived fields fall back to zero values.
	p := base()
	delete(p, "description")
	delete(p, "active_port")
	delete(p, "base_volume")
	rec, ok := Normalize(bridge.NativeID{Class: ClassSink, Index: 1}, p)
	if !ok {
		t.Fatal("missing derived fields suppressed the record")
	}
	d := rec.(Device)
	if d.Description != "" || d.ActivePort != "" || d.CanBalance {
		t.Errorf("derived defaults = %+v", d)
	}
}

func TestNormalizeCards(t *testing.T) {
	cards := decode(t, cardsJSON)

	rec, ok := Normalize(bridge.NativeID{Class: ClassCard, Index: 42}, cards[0])
	if !ok {
		t.Fatal("alsa card suppressed")
	}
	c := rec.(Card)
	if c.ObjectID != 47 || c.DomainID() != "card:alsa_card.pci-0000_00_1f.3" {
		t.Errorf("card = %+v", c)
	}
	want := Variant{Bus: "alsa", AlsaCard: 0, AlsaCardName: "HDA Intel PCH", CardProfileDevice: 3}
	if c.Variant != want {
		t.Errorf("Variant = %+v, want %+v", c.Variant, want)
	}
	if len(c.Profiles) != 2 || c.Profiles[0].Name != "off" || c.Profiles[1].Sinks != 1 {
		t.Errorf("Profiles = %+v", c.Profiles)
	}
	if c.ActiveProfile != "output:analog-stereo" {
		t.Errorf("ActiveProfile = %q", c.ActiveProfile)
	}
	if len(c.Ports) != 2 {
		t.Fatalf("Ports = %+v", c.Ports)
	}
	mic, speaker := c.Ports[0], c.Ports[1]
	if mic.Direction != DirectionInput || mic.Type != PortUnknown || mic.Priority != 8700 {
		t.Errorf("mic = %+v", mic)
	}
	if speaker.Direction != DirectionOutput || speaker.Type != PortAnalog || speaker.ProfilePort != 1 {
		t.Errorf("speaker = %+v", speaker)
	}

	rec, ok = Normalize(bridge.NativeID{Class: ClassCard, Index: 43}, cards[1])
	if !ok {
		t.Fatal("bluez card suppressed")
	}
	if v := rec.(Card).Variant; v.Bus != "bluez5" || v.Address != "00:11:22:33:44:55" || v.Codec != "sbc" {
		t.Errorf("bluez variant = %+v", v)
	}

	if _, ok := Normalize(bridge.NativeID{Class: ClassCard, Index: 44}, cards[2]); ok {
		t.Error("card without a known variant was not suppressed")
	}
}

func TestUnnamedCardsKeepDistinctIDs(t *testing.T) {
	cards := decode(t, cardsJSON)
	seen := make(map[string]bool)
	for i, index := range []uint32{42, 43} {
		p := make(bridge.Props, len(cards[i]))
		for k, v := range cards[i] {
			p[k] = v
		}
		delete(p, "name")

		rec, ok := Normalize(bridge.NativeID{Class: ClassCard, Index: index}, p)
		if !ok {
			t.Fatalf("card %d suppressed without a name", index)
		}
		id := rec.DomainID()
		if seen[id] {
			t.Errorf("domain id %q shared by two cards", id)
		}
		seen[id] = true
	}
	if !seen["card:#47"] || !seen["card:#80"] {
		t.Errorf("domain ids = %v, want card:#47 and card:#80", seen)
	}
}

func TestBalanceRoundTrip(t *testing.T) {
	channels := []string{"front-left", "front-right"}
	tests := []struct {
		bal  float64
		want []uint32
	}{
		{0, []uint32{40000, 40000}},
		{-1, []uint32{40000, 0}},
		{0.5, []uint32{20000, 40000}},
		{3, []uint32{0, 40000}},
	}
	for _, tt := range tests {
		got := balancedVolumes(channels, []uint32{40000, 30000}, tt.bal)
		if got[0] != tt.want[0] || got[1] != tt.want[1] {
			t.Errorf("balancedVolumes(%v) = %v, want %v", tt.bal, got, tt.want)
		}
		if tt.bal >= -1 && tt.bal <= 1 {
			if b := balance(channels, got); math.Abs(b-tt.bal) > 1e-4 {
				t.Errorf("balance of %v = %v, want %v", got, b, tt.bal)
			}
		}
	}
}
