package flatmsg

import flatbuffers "github.com/google/flatbuffers/go"

// ModeConfiguration carries the per-mode bus parameters from
// bpio_client.py's configuration_request kwargs (speed, data_bits, parity,
// stop_bits, clock_polarity, clock_phase, chip_select_idle) — the subset
// that the core's Bus role configuration actually drives (BusConfig
// variants). Fields not supplied by a caller are left at their zero value,
// which the firmware interprets as "leave as-is" for unset optionals
// once wrapped in ConfigurationRequest's own presence bits.
type ModeConfiguration struct {
	tab flatbuffers.Table
}

func GetRootAsModeConfiguration(buf []byte, offset flatbuffers.UOffsetT) *ModeConfiguration {
	m := &ModeConfiguration{}
	m.tab.Bytes = buf
	m.tab.Pos = offset
	return m
}

func (m *ModeConfiguration) Speed() uint32 {
	if o := field(&m.tab, 0); o != 0 {
		return m.tab.GetUint32(o)
	}
	return 0
}
func (m *ModeConfiguration) DataBits() uint8 {
	if o := field(&m.tab, 1); o != 0 {
		return m.tab.GetUint8(o)
	}
	return 0
}
func (m *ModeConfiguration) Parity() uint8 {
	if o := field(&m.tab, 2); o != 0 {
		return m.tab.GetUint8(o)
	}
	return 0
}
func (m *ModeConfiguration) StopBits() uint8 {
	if o := field(&m.tab, 3); o != 0 {
		return m.tab.GetUint8(o)
	}
	return 0
}
func (m *ModeConfiguration) ClockPolarity() bool {
	if o := field(&m.tab, 4); o != 0 {
		return m.tab.GetBool(o)
	}
	return false
}
func (m *ModeConfiguration) ClockPhase() bool {
	if o := field(&m.tab, 5); o != 0 {
		return m.tab.GetBool(o)
	}
	return false
}
func (m *ModeConfiguration) ChipSelectIdle() bool {
	if o := field(&m.tab, 6); o != 0 {
		return m.tab.GetBool(o)
	}
	return false
}

func ModeConfigurationStart(b *flatbuffers.Builder) { b.StartObject(7) }
func ModeConfigurationAddSpeed(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(0, v, 0)
}
func ModeConfigurationAddDataBits(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(1, v, 0)
}
func ModeConfigurationAddParity(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(2, v, 0)
}
func ModeConfigurationAddStopBits(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(3, v, 0)
}
func ModeConfigurationAddClockPolarity(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(4, v, false)
}
func ModeConfigurationAddClockPhase(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(5, v, false)
}
func ModeConfigurationAddChipSelectIdle(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(6, v, false)
}
func ModeConfigurationEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT { return b.EndObject() }

// ConfigurationRequest mirrors the mode/PSU/pull-up/IO/lifecycle fields
// of bpio_client.py's configuration_request(**kwargs) — a representative
// subset of the documented superset (the request "carries dozens of
// optional fields; not all are implemented in firmware").
type ConfigurationRequest struct {
	tab flatbuffers.Table
}

func GetRootAsConfigurationRequest(buf []byte, offset flatbuffers.UOffsetT) *ConfigurationRequest {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	c := &ConfigurationRequest{}
	c.tab.Bytes = buf
	c.tab.Pos = n + offset
	return c
}

func (c *ConfigurationRequest) InitFromTable(t flatbuffers.Table) {
	c.tab = t
}

func (c *ConfigurationRequest) Mode() uint8 {
	if o := field(&c.tab, 0); o != 0 {
		return c.tab.GetUint8(o)
	}
	return 0
}
func (c *ConfigurationRequest) ModeConfiguration() *ModeConfiguration {
	o := field(&c.tab, 1)
	if o == 0 {
		return nil
	}
	return GetRootAsModeConfiguration(c.tab.Bytes, c.tab.Indirect(o))
}
func (c *ConfigurationRequest) PSUEnable() bool {
	if o := field(&c.tab, 2); o != 0 {
		return c.tab.GetBool(o)
	}
	return false
}
func (c *ConfigurationRequest) PSUDisable() bool {
	if o := field(&c.tab, 3); o != 0 {
		return c.tab.GetBool(o)
	}
	return false
}
func (c *ConfigurationRequest) PSUSetMV() uint32 {
	if o := field(&c.tab, 4); o != 0 {
		return c.tab.GetUint32(o)
	}
	return 0
}
func (c *ConfigurationRequest) PSUSetMA() uint32 {
	if o := field(&c.tab, 5); o != 0 {
		return c.tab.GetUint32(o)
	}
	return 0
}
func (c *ConfigurationRequest) PullupEnable() bool {
	if o := field(&c.tab, 6); o != 0 {
		return c.tab.GetBool(o)
	}
	return false
}
func (c *ConfigurationRequest) PullupDisable() bool {
	if o := field(&c.tab, 7); o != 0 {
		return c.tab.GetBool(o)
	}
	return false
}
func (c *ConfigurationRequest) IODirectionMask() uint32 {
	if o := field(&c.tab, 8); o != 0 {
		return c.tab.GetUint32(o)
	}
	return 0
}
func (c *ConfigurationRequest) IODirection() uint32 {
	if o := field(&c.tab, 9); o != 0 {
		return c.tab.GetUint32(o)
	}
	return 0
}
func (c *ConfigurationRequest) IOValueMask() uint32 {
	if o := field(&c.tab, 10); o != 0 {
		return c.tab.GetUint32(o)
	}
	return 0
}
func (c *ConfigurationRequest) IOValue() uint32 {
	if o := field(&c.tab, 11); o != 0 {
		return c.tab.GetUint32(o)
	}
	return 0
}
func (c *ConfigurationRequest) HardwareReset() bool {
	if o := field(&c.tab, 12); o != 0 {
		return c.tab.GetBool(o)
	}
	return false
}
func (c *ConfigurationRequest) HardwareBootloader() bool {
	if o := field(&c.tab, 13); o != 0 {
		return c.tab.GetBool(o)
	}
	return false
}

func ConfigurationRequestStart(b *flatbuffers.Builder) { b.StartObject(14) }
func ConfigurationRequestAddMode(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(0, v, 0)
}
func ConfigurationRequestAddModeConfiguration(b *flatbuffers.Builder, v flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(1, v, 0)
}
func ConfigurationRequestAddPSUEnable(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(2, v, false)
}
func ConfigurationRequestAddPSUDisable(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(3, v, false)
}
func ConfigurationRequestAddPSUSetMV(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(4, v, 0)
}
func ConfigurationRequestAddPSUSetMA(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(5, v, 0)
}
func ConfigurationRequestAddPullupEnable(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(6, v, false)
}
func ConfigurationRequestAddPullupDisable(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(7, v, false)
}
func ConfigurationRequestAddIODirectionMask(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(8, v, 0)
}
func ConfigurationRequestAddIODirection(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(9, v, 0)
}
func ConfigurationRequestAddIOValueMask(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(10, v, 0)
}
func ConfigurationRequestAddIOValue(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(11, v, 0)
}
func ConfigurationRequestAddHardwareReset(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(12, v, false)
}
func ConfigurationRequestAddHardwareBootloader(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(13, v, false)
}
func ConfigurationRequestEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT { return b.EndObject() }

// ConfigurationResponse is an empty-bodied acknowledgement; its information
// content is carried entirely by ResponsePacket.Error().
type ConfigurationResponse struct {
	tab flatbuffers.Table
}

func ConfigurationResponseStart(b *flatbuffers.Builder) { b.StartObject(0) }
func ConfigurationResponseEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT { return b.EndObject() }
