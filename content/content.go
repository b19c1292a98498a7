package content

import "fmt"

type ContentType uint32

const (
	SavedGame          ContentType = 0x00000001
	MarketplaceContent ContentType = 0x00000002
	Publisher          ContentType = 0x00000003
	Xbox360Title       ContentType = 0x00001000
	InstalledGame      ContentType = 0x00004000
	Profile            ContentType = 0x00010000
	GamerPicture       ContentType = 0x00020000
	Theme              ContentType = 0x00030000
	GameDemo           ContentType = 0x00080000
	GameTitle          ContentType = 0x000A0000
	Installer          ContentType = 0x000B0000
	ArcadeTitle        ContentType = 0x000D0000
	XNA                ContentType = 0x000E0000
	CommunityGame      ContentType = 0x02000000
)

type Descriptor struct {
	DeviceID    uint32
	ContentType ContentType
	DisplayName string
	FileName    string
}

type Manager interface {
	ListContent(deviceID uint32, typ ContentType) ([]Descriptor, error)
	OpenContent(rootName string, desc Descriptor) error
	CloseContent(rootName string) error
}

func (t ContentType) String() string {
	switch t {
	case SavedGame:
		return "saved game"
	case MarketplaceContent:
		return "marketplace content"
	case Installer:
		return "installer"
	case GameTitle:
		return "game title"
	case ArcadeTitle:
		return "arcade title"
	}
	return fmt.Sprintf("%08X", uint32(t))
}
