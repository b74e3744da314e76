package license

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// TestCapabilitiesFor_Matrix проверяет матрицу возможностей для всех типов.
func TestCapabilitiesFor_Matrix(t *testing.T) {
	tests := []struct {
		typ         Type
		canDownload bool
		canResell   bool
		playback    PlaybackModel
	}{
		{TypeFullOwnership, true, true, PlaybackUnlimited},
		{TypeStreaming, false, false, PlaybackPayPerStream},
		{TypeLimitedPlay, false, false, PlaybackCapped},
		{TypeTimeLimited, false, false, PlaybackUntilExpiry},
		{TypeCommercial, false, true, PlaybackUnlimited},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			caps := CapabilitiesFor(tt.typ)
			if caps.CanDownload != tt.canDownload {
				t.Errorf("CanDownload = %v, ожидалось %v", caps.CanDownload, tt.canDownload)
			}
			if caps.CanResell != tt.canResell {
				t.Errorf("CanResell = %v, ожидалось %v", caps.CanResell, tt.canResell)
			}
			if caps.Playback != tt.playback {
				t.Errorf("Playback = %q, ожидалось %q", caps.Playback, tt.playback)
			}
		})
	}

	if !CapabilitiesFor(TypeCommercial).HasUsageTerms {
		t.Error("commercial_license должна нести условия использования")
	}
}

// TestCapabilitiesFor_UnknownType проверяет нулевой профиль для неизвестного типа.
func TestCapabilitiesFor_UnknownType(t *testing.T) {
	caps := CapabilitiesFor(Type("rental"))
	if caps.CanDownload || caps.CanResell {
		t.Errorf("неизвестный тип не должен иметь возможностей: %+v", caps)
	}
	if caps.Playback != PlaybackNone {
		t.Errorf("Playback = %q, ожидалось none", caps.Playback)
	}
}

// TestParseType проверяет разбор строкового типа.
func TestParseType(t *testing.T) {
	for _, typ := range Types() {
		got, err := ParseType(string(typ))
		if err != nil {
			t.Errorf("ParseType(%q) ошибка: %v", typ, err)
		}
		if got != typ {
			t.Errorf("ParseType(%q) = %q", typ, got)
		}
	}

	if _, err := ParseType("FullOwnership"); err == nil {
		t.Error("ожидалась ошибка для недопустимого типа")
	}
}

// TestStateAt проверяет вычисление состояния доступа.
func TestStateAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		typ     Type
		plays   *int
		expires *time.Time
		want    AccessState
	}{
		{"limited с остатком", TypeLimitedPlay, IntPtr(3), nil, StateActive},
		{"limited исчерпана", TypeLimitedPlay, IntPtr(0), nil, StateExhausted},
		{"limited без счётчика", TypeLimitedPlay, nil, nil, StateExhausted},
		{"time_limited истекла", TypeTimeLimited, nil, &past, StateExpired},
		{"time_limited действует", TypeTimeLimited, nil, &future, StateActive},
		{"time_limited без даты", TypeTimeLimited, nil, nil, StateActive},
		{"full_ownership игнорирует поля", TypeFullOwnership, IntPtr(0), &past, StateActive},
		{"streaming игнорирует поля", TypeStreaming, IntPtr(0), &past, StateActive},
		{"commercial игнорирует поля", TypeCommercial, IntPtr(0), &past, StateActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateAt(tt.typ, tt.plays, tt.expires, now); got != tt.want {
				t.Errorf("StateAt = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}

// TestValidate проверяет валидацию обязательных полей.
func TestValidate(t *testing.T) {
	valid := PurchasedLicense{ID: "lic-1", InstanceID: "7", Type: TypeStreaming}
	if err := valid.Validate(); err != nil {
		t.Fatalf("валидная лицензия: %v", err)
	}

	cases := map[string]PurchasedLicense{
		"без id":          {InstanceID: "7", Type: TypeStreaming},
		"без instance_id": {ID: "lic-1", Type: TypeStreaming},
		"неизвестный тип": {ID: "lic-1", InstanceID: "7", Type: "rental"},
		"отрицательные":   {ID: "lic-1", InstanceID: "7", Type: TypeLimitedPlay, PlaysRemaining: IntPtr(-1)},
	}
	for name, l := range cases {
		if err := l.Validate(); err == nil {
			t.Errorf("%s: ожидалась ошибка валидации", name)
		}
	}
}

// TestPurchasedLicense_JSON проверяет формат полей на границе HTTP API.
func TestPurchasedLicense_JSON(t *testing.T) {
	raw := `{
		"id": "lic-1",
		"instance_id": "42",
		"master_id": "m-9",
		"title": "Night Drive",
		"artist": "Stori",
		"audio_uri": "ipfs://bafyaudio",
		"license_type": "limited_play",
		"purchase_date": "2026-01-02T03:04:05Z",
		"purchase_price": 0.05,
		"transaction_hash": "0xabc",
		"transferable": false,
		"plays_remaining": 5,
		"total_plays": 5
	}`

	var l PurchasedLicense
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if l.Type != TypeLimitedPlay {
		t.Errorf("Type = %q", l.Type)
	}
	if l.PlaysRemaining == nil || *l.PlaysRemaining != 5 {
		t.Errorf("PlaysRemaining = %v, ожидалось 5", l.PlaysRemaining)
	}
	if l.ExpirationDate != nil {
		t.Error("ExpirationDate должна быть nil для limited_play")
	}

	out, err := json.Marshal(PurchasedLicense{ID: "x", InstanceID: "1", Type: TypeFullOwnership})
	if err != nil {
		t.Fatalf("ошибка кодирования: %v", err)
	}
	if strings.Contains(string(out), "plays_remaining") || strings.Contains(string(out), "expiration_date") {
		t.Errorf("пустые опциональные поля не должны сериализоваться: %s", out)
	}
}
