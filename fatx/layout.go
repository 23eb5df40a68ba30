package fatx

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/tucana-systems/fatx360/errors"
)

// DeviceKind identifies the kind of physical device a Device was probed
// from, which determines its fixed partition layout per spec §4.5.
type DeviceKind string

const (
	DeviceKindMemoryCard      DeviceKind = "MemoryCard"
	DeviceKindHardDrive       DeviceKind = "HardDrive"
	DeviceKindHardDriveDevkit DeviceKind = "HardDriveDevkit"
	DeviceKindUSBStick        DeviceKind = "USBStick"

	// DeviceKindUnknown is what Probe returns when neither the magic at
	// offset 0 nor the magic at 0x80000 identifies the device; it carries no
	// partition layout.
	DeviceKindUnknown DeviceKind = "Unknown"
)

// PartitionLayout describes one fixed partition's position within a device
// of a given kind.
type PartitionLayout struct {
	DeviceKind string `csv:"device_kind"`
	Name       string `csv:"name"`
	Index      int    `csv:"partition_index"`
	Offset     int64  `csv:"offset"`
	// SizeBytes is the partition's fixed size, or 0 if it extends to consume
	// whatever capacity remains on the device (the common case for the last
	// partition in a layout).
	SizeBytes int64 `csv:"size_bytes"`
}

//go:embed partition_layouts.csv
var partitionLayoutsRawCSV string

var partitionLayoutsByKind map[DeviceKind][]PartitionLayout

func init() {
	partitionLayoutsByKind = make(map[DeviceKind][]PartitionLayout)

	var rows []PartitionLayout
	if err := gocsv.UnmarshalString(partitionLayoutsRawCSV, &rows); err != nil {
		panic(fmt.Sprintf("fatx: malformed embedded partition layout table: %v", err))
	}

	for _, row := range rows {
		kind := DeviceKind(row.DeviceKind)
		partitionLayoutsByKind[kind] = append(partitionLayoutsByKind[kind], row)
	}
}

// LayoutForDeviceKind returns the ordered partition layout for kind, or an
// error if kind isn't one of the recognized device kinds.
func LayoutForDeviceKind(kind DeviceKind) ([]PartitionLayout, error) {
	if kind == DeviceKindUnknown {
		return nil, nil
	}

	layout, ok := partitionLayoutsByKind[kind]
	if !ok {
		return nil, errors.NotFound.WithMessage("no partition layout for device kind " + string(kind))
	}
	result := make([]PartitionLayout, len(layout))
	copy(result, layout)
	return result, nil
}

// ResolvedSize returns a partition's concrete size in bytes given the total
// device capacity, expanding a zero SizeBytes to "everything from Offset to
// the end of the device".
func (l PartitionLayout) ResolvedSize(deviceTotalBytes int64) int64 {
	if l.SizeBytes != 0 {
		return l.SizeBytes
	}
	return deviceTotalBytes - l.Offset
}

// ParseDeviceKind maps a case-insensitive name to its DeviceKind constant.
func ParseDeviceKind(name string) (DeviceKind, error) {
	switch strings.ToLower(name) {
	case "memorycard":
		return DeviceKindMemoryCard, nil
	case "harddrive":
		return DeviceKindHardDrive, nil
	case "harddrivedevkit":
		return DeviceKindHardDriveDevkit, nil
	case "usbstick":
		return DeviceKindUSBStick, nil
	default:
		return "", errors.NotFound.WithMessage("unrecognized device kind " + name)
	}
}
