package paradox

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProtocolMap holds every byte offset and memory address that depends on
// the panel firmware generation. DefaultProtocolMap matches EVO firmware;
// LoadProtocolMap overlays a YAML file on top of it.
type ProtocolMap struct {
	Init       InitLayout            `yaml:"init"`
	Labels     LabelLayout           `yaml:"labels"`
	Partitions PartitionLayout       `yaml:"partitions"`
	Zones      map[string]ZoneLayout `yaml:"zones"`
}

// InitLayout tells where each field of the panel initialization broadcast
// lives, and the fixed values we answer with.
type InitLayout struct {
	ModuleAddress    int    `yaml:"module_address"`
	ProductID        int    `yaml:"product_id"`
	SoftwareVersion  int    `yaml:"software_version"`
	SoftwareRevision int    `yaml:"software_revision"`
	SoftwareID       int    `yaml:"software_id"`
	ModuleID         int    `yaml:"module_id"`
	SerialNumber     int    `yaml:"serial_number"`
	SectionData      int    `yaml:"section_data"`
	ModemSpeed       byte   `yaml:"modem_speed"`
	WinloadType      byte   `yaml:"winload_type"`
	UserCode         []byte `yaml:"user_code"`
	SourceID         byte   `yaml:"source_id"`
}

type LabelLayout struct {
	Length          int `yaml:"length"`
	PartitionBase   int `yaml:"partition_base"`
	PartitionStride int `yaml:"partition_stride"`
	ZoneBase        int `yaml:"zone_base"`
	ZoneHighBase    int `yaml:"zone_high_base"`
	ZoneSplit       int `yaml:"zone_split"`
	ZoneStride      int `yaml:"zone_stride"`
}

type PartitionLayout struct {
	Ranges []ByteRange `yaml:"ranges"`
	Size   int         `yaml:"size"`
}

type ZoneLayout struct {
	Opened     []ByteRange `yaml:"opened"`
	Tampered   []ByteRange `yaml:"tampered"`
	LowBattery []ByteRange `yaml:"low_battery"`
}

// ByteRange is [From, To) of the memory map block at index Block.
type ByteRange struct {
	Block int `yaml:"block"`
	From  int `yaml:"from"`
	To    int `yaml:"to"`
}

// field sizes in the initialization broadcast.
const (
	moduleIDSize     = 2
	serialNumberSize = 4
	sectionDataSize  = 9
	userCodeSize     = 3
)

// DefaultProtocolMap returns the offsets used by EVO panels.
func DefaultProtocolMap() ProtocolMap {
	return ProtocolMap{
		Init: InitLayout{
			ModuleAddress:    1,
			ProductID:        4,
			SoftwareVersion:  5,
			SoftwareRevision: 6,
			SoftwareID:       7,
			ModuleID:         8,
			SerialNumber:     17,
			SectionData:      21,
			ModemSpeed:       0x08,
			WinloadType:      0x30,
			// winload always sends user code 021000.
			UserCode: []byte{0x02, 0x10, 0x00},
			SourceID: 0x00,
		},
		Labels: LabelLayout{
			Length:          16,
			PartitionBase:   0x3A6B,
			PartitionStride: 107,
			ZoneBase:        0x430,
			ZoneHighBase:    0x62F7,
			ZoneSplit:       96,
			ZoneStride:      16,
		},
		Partitions: PartitionLayout{
			Ranges: []ByteRange{{2, 32, 64}, {3, 0, 16}},
			Size:   6,
		},
		Zones: map[string]ZoneLayout{
			PanelEVO48.String(): {
				Opened:     []ByteRange{{0, 28, 34}},
				Tampered:   []ByteRange{{0, 40, 46}},
				LowBattery: []ByteRange{{0, 52, 58}},
			},
			PanelEVO96.String(): {
				Opened:     []ByteRange{{0, 28, 40}},
				Tampered:   []ByteRange{{0, 40, 52}},
				LowBattery: []ByteRange{{0, 52, 64}},
			},
			PanelEVO192.String(): {
				Opened:     []ByteRange{{0, 28, 40}, {8, 0, 12}},
				Tampered:   []ByteRange{{0, 40, 52}, {8, 12, 24}},
				LowBattery: []ByteRange{{0, 52, 64}, {8, 24, 36}},
			},
		},
	}
}

// LoadProtocolMap reads a YAML file and applies it over the defaults. Keys
// missing from the file keep their default value.
func LoadProtocolMap(path string) (ProtocolMap, error) {
	pm := DefaultProtocolMap()
	bts, err := os.ReadFile(path)
	if err != nil {
		return pm, fmt.Errorf("could not read protocol map: %w", err)
	}
	if err := yaml.Unmarshal(bts, &pm); err != nil {
		return pm, fmt.Errorf("could not parse protocol map: %w", err)
	}
	if err := pm.validate(); err != nil {
		return pm, fmt.Errorf("invalid protocol map %s: %w", path, err)
	}
	return pm, nil
}

func (pm ProtocolMap) validate() error {
	if len(pm.Init.UserCode) != userCodeSize {
		return fmt.Errorf("init.user_code must have %d bytes", userCodeSize)
	}
	if pm.Labels.Length < 1 || pm.Labels.Length > maxReadLength {
		return fmt.Errorf("labels.length must be 1-%d", maxReadLength)
	}
	if pm.Partitions.Size < 1 {
		return fmt.Errorf("partitions.size must be positive")
	}
	ranges := append([]ByteRange{}, pm.Partitions.Ranges...)
	for _, zl := range pm.Zones {
		ranges = append(ranges, zl.Opened...)
		ranges = append(ranges, zl.Tampered...)
		ranges = append(ranges, zl.LowBattery...)
	}
	for _, r := range ranges {
		if r.Block < 0 || r.Block >= MemoryMapBlocks ||
			r.From < 0 || r.To > BlockSize || r.From > r.To {
			return fmt.Errorf("byte range %+v is outside the memory map", r)
		}
	}
	return nil
}

// zoneLayout returns the layout for the given panel, falling back to the
// biggest EVO.
func (pm ProtocolMap) zoneLayout(pt PanelType) ZoneLayout {
	if zl, ok := pm.Zones[pt.String()]; ok {
		return zl
	}
	return pm.Zones[PanelEVO192.String()]
}

func (l LabelLayout) partitionAddress(n int) int {
	return l.PartitionBase + (n-1)*l.PartitionStride
}

func (l LabelLayout) zoneAddress(n int) int {
	if n <= l.ZoneSplit {
		return l.ZoneBase + (n-1)*l.ZoneStride
	}
	return l.ZoneHighBase + (n-l.ZoneSplit-1)*l.ZoneStride
}

// byte positions of the initialization request.
const (
	reqModuleAddress    = 1
	reqProductID        = 4
	reqSoftwareVersion  = 5
	reqSoftwareRevision = 6
	reqSoftwareID       = 7
	reqModuleID         = 8
	reqPCPassword       = 10
	reqModemSpeed       = 12
	reqWinloadType      = 13
	reqUserCode         = 14
	reqSerialNumber     = 17
	reqSectionData      = 21
	reqSourceID         = 34
	reqCarrierLength    = 35
)

// generateInitializationRequest answers the panel initialization broadcast.
// It is a byte template: fields are copied out of initMessage at the offsets
// of l and the rest is fixed.
func generateInitializationRequest(initMessage, pcPassword []byte, l InitLayout) ([]byte, error) {
	need := max(
		l.ModuleAddress+1,
		l.ProductID+1,
		l.SoftwareVersion+1,
		l.SoftwareRevision+1,
		l.SoftwareID+1,
		l.ModuleID+moduleIDSize,
		l.SerialNumber+serialNumberSize,
		l.SectionData+sectionDataSize,
	)
	if len(initMessage) < need {
		return nil, fmt.Errorf(
			"%w: initialization message has %d bytes, need %d",
			ErrMalformedResponse, len(initMessage), need,
		)
	}
	if len(pcPassword) != 2 {
		return nil, fmt.Errorf("pc password must be 2 bcd bytes, got %d", len(pcPassword))
	}
	if len(l.UserCode) != userCodeSize {
		return nil, fmt.Errorf("user code must have %d bytes, got %d", userCodeSize, len(l.UserCode))
	}

	req := make([]byte, serialMessageSize)
	req[0] = 0x00
	req[reqModuleAddress] = initMessage[l.ModuleAddress]
	req[reqProductID] = initMessage[l.ProductID]
	req[reqSoftwareVersion] = initMessage[l.SoftwareVersion]
	req[reqSoftwareRevision] = initMessage[l.SoftwareRevision]
	req[reqSoftwareID] = initMessage[l.SoftwareID]
	copy(req[reqModuleID:], initMessage[l.ModuleID:l.ModuleID+moduleIDSize])
	copy(req[reqPCPassword:], pcPassword)
	req[reqModemSpeed] = l.ModemSpeed
	req[reqWinloadType] = l.WinloadType
	copy(req[reqUserCode:], l.UserCode)
	copy(req[reqSerialNumber:], initMessage[l.SerialNumber:l.SerialNumber+serialNumberSize])
	copy(req[reqSectionData:], initMessage[l.SectionData:l.SectionData+sectionDataSize])
	req[reqSourceID] = l.SourceID
	req[reqCarrierLength] = 0x00
	return withChecksum(req), nil
}
