package license

// PlaybackModel — модель воспроизведения для типа лицензии.
type PlaybackModel string

const (
	// PlaybackNone — воспроизведение не предусмотрено (неизвестный тип)
	PlaybackNone PlaybackModel = "none"
	// PlaybackUnlimited — без ограничений
	PlaybackUnlimited PlaybackModel = "unlimited"
	// PlaybackPayPerStream — без ограничений, оплата за поток учитывается вне подсистемы
	PlaybackPayPerStream PlaybackModel = "pay_per_stream"
	// PlaybackCapped — ограниченное число воспроизведений
	PlaybackCapped PlaybackModel = "capped"
	// PlaybackUntilExpiry — до даты истечения
	PlaybackUntilExpiry PlaybackModel = "until_expiry"
)

// Capabilities — профиль возможностей типа лицензии.
type Capabilities struct {
	CanDownload bool          `json:"can_download"`
	CanResell   bool          `json:"can_resell"`
	Playback    PlaybackModel `json:"playback"`
	// HasUsageTerms — тип несёт текстовые условия использования
	HasUsageTerms bool `json:"has_usage_terms"`
}

// capabilities — матрица возможностей по типам лицензий.
// Задаётся при компиляции; новый тип добавляется одной строкой.
var capabilities = map[Type]Capabilities{
	TypeFullOwnership: {CanDownload: true, CanResell: true, Playback: PlaybackUnlimited},
	TypeStreaming:     {Playback: PlaybackPayPerStream},
	TypeLimitedPlay:   {Playback: PlaybackCapped},
	TypeTimeLimited:   {Playback: PlaybackUntilExpiry},
	TypeCommercial:    {CanResell: true, Playback: PlaybackUnlimited, HasUsageTerms: true},
}

// CapabilitiesFor возвращает профиль возможностей для типа.
// Для неизвестного типа — нулевой профиль без права воспроизведения.
func CapabilitiesFor(t Type) Capabilities {
	caps, ok := capabilities[t]
	if !ok {
		return Capabilities{Playback: PlaybackNone}
	}
	return caps
}

// CanDownload — тип разрешает скачивание.
func CanDownload(t Type) bool {
	return CapabilitiesFor(t).CanDownload
}

// CanResell — тип разрешает перепродажу/передачу.
func CanResell(t Type) bool {
	return CapabilitiesFor(t).CanResell
}
