package loader

type Relocation interface {
	rel()
}

type RelocationVariable struct {
	Addr    uint32
	Ordinal uint16
	Library string
}

type RelocationFunction struct {
	Addr    uint32
	Ordinal uint16
	Library string
}

func (*RelocationVariable) rel() {}
func (*RelocationFunction) rel() {}
