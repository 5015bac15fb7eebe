package domain

type MediaType uint8

const (
	MediaVideo  MediaType = 1
	MediaAudio  MediaType = 2
	MediaScreen MediaType = 3
)

func (t MediaType) Valid() bool {
	return t >= MediaVideo && t <= MediaScreen
}

func (t MediaType) String() string {
	switch t {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaScreen:
		return "screen"
	default:
		return "unknown"
	}
}
