package transcriber

// DefaultEngine is used when no engine is configured.
const DefaultEngine = "faster-whisper-base"

// Engine describes one selectable transcription model.
type Engine struct {
	Name        string
	Family      string
	Size        string
	Description string
	Speed       string
	Accuracy    string
}

// Catalog lists the engines the transcriber understands, fastest families first.
var Catalog = []Engine{
	{"apple", "apple", "", "macOS native speech recognition, no downloads", "very-fast", "medium"},
	{"whisper-tiny", "whisper", "tiny", "Fastest Whisper model, ~75MB", "fast", "medium"},
	{"whisper-base", "whisper", "base", "Fast Whisper model, ~142MB", "medium", "high"},
	{"whisper-small", "whisper", "small", "Accurate Whisper model, ~466MB", "medium", "high"},
	{"whisper-medium", "whisper", "medium", "High accuracy Whisper model, ~1.5GB", "slow", "very-high"},
	{"whisper-large", "whisper", "large", "Best accuracy Whisper model, ~3GB", "very-slow", "very-high"},
	{"faster-whisper-tiny", "faster-whisper", "tiny", "CTranslate2 build of Whisper Tiny", "very-fast", "medium"},
	{"faster-whisper-base", "faster-whisper", "base", "CTranslate2 build of Whisper Base (recommended)", "fast", "high"},
	{"faster-whisper-small", "faster-whisper", "small", "CTranslate2 build of Whisper Small", "fast", "high"},
	{"faster-whisper-medium", "faster-whisper", "medium", "CTranslate2 build of Whisper Medium", "medium", "very-high"},
	{"faster-whisper-large-v3", "faster-whisper", "large-v3", "CTranslate2 build of Whisper Large v3", "slow", "very-high"},
}

// Lookup finds an engine by name.
func Lookup(name string) (Engine, bool) {
	for _, e := range Catalog {
		if e.Name == name {
			return e, true
		}
	}
	return Engine{}, false
}
