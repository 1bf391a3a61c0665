package isobmff

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// GetFlags returns the flags.
func (b *FullBox) GetFlags() uint32 {
	flag := uint32(b.Flags[0]) << 16
	flag ^= uint32(b.Flags[1]) << 8
	flag ^= uint32(b.Flags[2])
	return flag
}

// CheckFlag checks the flag status.
func (b *FullBox) CheckFlag(flag uint32) bool {
	return b.GetFlags()&flag != 0
}

// Size returns the marshaled size in bytes.
func (b *FullBox) Size() int {
	return 4
}

// Marshal box to buffer.
func (b *FullBox) Marshal(buf []byte, pos *int) {
	WriteByte(buf, pos, b.Version)
	WriteByte(buf, pos, b.Flags[0])
	WriteByte(buf, pos, b.Flags[1])
	WriteByte(buf, pos, b.Flags[2])
}

// Unmarshal box from buffer.
func (b *FullBox) Unmarshal(buf []byte, pos *int) error {
	v, err := ReadByte(buf, pos)
	if err != nil {
		return err
	}
	b.Version = v
	for i := range b.Flags {
		f, err := ReadByte(buf, pos)
		if err != nil {
			return err
		}
		b.Flags[i] = f
	}
	return nil
}

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type. Open records its MajorBrand on the File;
// it does not reject any brand.
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands []CompatibleBrandElem
}

// CompatibleBrandElem .
type CompatibleBrandElem struct {
	CompatibleBrand [4]byte
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType {
	return [4]byte{'f', 't', 'y', 'p'}
}

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int {
	total := len(b.MajorBrand) + 4
	total += len(b.CompatibleBrands) * 4
	return total
}

// Marshal box to buffer.
func (b *Ftyp) Marshal(buf []byte, pos *int) {
	Write(buf, pos, b.MajorBrand[:])
	WriteUint32(buf, pos, b.MinorVersion)
	for _, brands := range b.CompatibleBrands {
		Write(buf, pos, brands.CompatibleBrand[:])
	}
}

// Unmarshal box from buffer. buf must hold exactly the box's payload.
func (b *Ftyp) Unmarshal(buf []byte, pos *int) error {
	major, err := ReadBytes(buf, pos, 4)
	if err != nil {
		return err
	}
	copy(b.MajorBrand[:], major)

	minor, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.MinorVersion = minor

	b.CompatibleBrands = nil
	for *pos+4 <= len(buf) {
		brand, err := ReadBytes(buf, pos, 4)
		if err != nil {
			return err
		}
		var elem CompatibleBrandElem
		copy(elem.CompatibleBrand[:], brand)
		b.CompatibleBrands = append(b.CompatibleBrands, elem)
	}
	return nil
}

/*************************** hdlr ****************************/

// Hdlr is ISOBMFF hdlr box type.
type Hdlr struct {
	FullBox
	// PreDefined corresponds to component_type of QuickTime.
	// pre_defined of ISO-14496 has always zero,
	// however component_type has "mhlr" or "dhlr".
	PreDefined  uint32
	HandlerType [4]byte
	Reserved    [3]uint32
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType {
	return [4]byte{'h', 'd', 'l', 'r'}
}

// Size returns the marshaled size in bytes.
func (b *Hdlr) Size() int {
	total := len(b.HandlerType) + 9
	total += len(b.Reserved) * 4
	total += len(b.Name)
	return total
}

// Marshal box to buffer.
func (b *Hdlr) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.PreDefined)
	Write(buf, pos, b.HandlerType[:])
	for _, reserved := range b.Reserved {
		WriteUint32(buf, pos, reserved)
	}
	WriteString(buf, pos, b.Name)
}

// Unmarshal box from buffer.
func (b *Hdlr) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	preDefined, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.PreDefined = preDefined

	handlerType, err := ReadBytes(buf, pos, 4)
	if err != nil {
		return err
	}
	copy(b.HandlerType[:], handlerType)

	for i := range b.Reserved {
		r, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.Reserved[i] = r
	}

	name, err := ReadCString(buf, pos)
	if err != nil {
		return err
	}
	b.Name = name
	return nil
}

/*************************** mdat ****************************/

// Mdat is ISOBMFF mdat box type. Its payload is never copied into a Mdat
// value during demuxing: a track's sample bytes are read directly out of
// the source at each sample's stco/co64 chunk offset (an absolute file
// offset) plus the sizes of the chunk's earlier samples.
type Mdat struct {
	Data []byte
}

// Type returns the BoxType.
func (*Mdat) Type() BoxType {
	return [4]byte{'m', 'd', 'a', 't'}
}

// Size returns the marshaled size in bytes.
func (b *Mdat) Size() int {
	return len(b.Data)
}

// Marshal box to buffer.
func (b *Mdat) Marshal(buf []byte, pos *int) {
	Write(buf, pos, b.Data)
}

/*************************** mdhd ****************************/

// Mdhd is ISOBMFF mdhd box type. Its Timescale is the unit the track's
// stts deltas are expressed in.
type Mdhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	Timescale          uint32
	DurationV0         uint32
	DurationV1         uint64
	//
	Pad        bool    // 1 bit.
	Language   [3]byte // 5 bits. ISO-639-2/T language code
	PreDefined uint16
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType {
	return [4]byte{'m', 'd', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Mdhd) Size() int {
	if b.FullBox.Version == 0 {
		return 24
	}
	return 36
}

// Marshal box to buffer.
func (b *Mdhd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	if b.FullBox.Version == 0 {
		WriteUint32(buf, pos, b.CreationTimeV0)
		WriteUint32(buf, pos, b.ModificationTimeV0)
	} else {
		WriteUint64(buf, pos, b.CreationTimeV1)
		WriteUint64(buf, pos, b.ModificationTimeV1)
	}
	WriteUint32(buf, pos, b.Timescale)
	if b.FullBox.Version == 0 {
		WriteUint32(buf, pos, b.DurationV0)
	} else {
		WriteUint64(buf, pos, b.DurationV1)
	}
	if b.Pad {
		WriteByte(buf, pos, byte(0x1)<<7|(b.Language[0]&0x1f)<<2|(b.Language[1]&0x1f)>>3)
	} else {
		WriteByte(buf, pos, (b.Language[0]&0x1f)<<2|(b.Language[1]&0x1f)>>3)
	}
	WriteByte(buf, pos, (b.Language[1]&0x7)<<5|(b.Language[2]&0x1f))
	WriteUint16(buf, pos, b.PreDefined)
}

// Unmarshal box from buffer.
func (b *Mdhd) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.CreationTimeV0 = v
		v, err = ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.ModificationTimeV0 = v
	} else {
		v, err := ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.CreationTimeV1 = v
		v, err = ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.ModificationTimeV1 = v
	}

	timescale, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.Timescale = timescale

	if b.FullBox.Version == 0 {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.DurationV0 = v
	} else {
		v, err := ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.DurationV1 = v
	}

	lang0, err := ReadByte(buf, pos)
	if err != nil {
		return err
	}
	lang1, err := ReadByte(buf, pos)
	if err != nil {
		return err
	}
	b.Pad = lang0&0x80 != 0
	b.Language[0] = (lang0 >> 2) & 0x1f
	b.Language[1] = (lang0&0x3)<<3 | (lang1 >> 5)
	b.Language[2] = lang1 & 0x1f

	preDefined, err := ReadUint16(buf, pos)
	if err != nil {
		return err
	}
	b.PreDefined = preDefined
	return nil
}

/*************************** mdia, minf, moov, stbl, trak ****************/

// Mdia is ISOBMFF mdia box type. It carries no fields of its own; its
// children (mdhd, hdlr, minf) are what the demuxer walks.
type Mdia struct{}

// Type returns the BoxType.
func (*Mdia) Type() BoxType {
	return [4]byte{'m', 'd', 'i', 'a'}
}

// Size returns the marshaled size in bytes.
func (b *Mdia) Size() int {
	return 0
}

// Marshal writes nothing: the box has no fields of its own.
func (b *Mdia) Marshal(buf []byte, pos *int) {
}

// Minf is ISOBMFF minf box type.
type Minf struct{}

// Type returns the BoxType.
func (*Minf) Type() BoxType {
	return [4]byte{'m', 'i', 'n', 'f'}
}

// Size returns the marshaled size in bytes.
func (b *Minf) Size() int {
	return 0
}

// Marshal writes nothing: the box has no fields of its own.
func (b *Minf) Marshal(buf []byte, pos *int) {
}

// Moov is ISOBMFF moov box type.
type Moov struct{}

// Type returns the BoxType.
func (*Moov) Type() BoxType {
	return [4]byte{'m', 'o', 'o', 'v'}
}

// Size returns the marshaled size in bytes.
func (b *Moov) Size() int {
	return 0
}

// Marshal writes nothing: the box has no fields of its own.
func (b *Moov) Marshal(buf []byte, pos *int) {
}

// Stbl is ISOBMFF stbl box type.
type Stbl struct{}

// Type returns the BoxType.
func (*Stbl) Type() BoxType {
	return [4]byte{'s', 't', 'b', 'l'}
}

// Size returns the marshaled size in bytes.
func (b *Stbl) Size() int {
	return 0
}

// Marshal writes nothing: the box has no fields of its own.
func (b *Stbl) Marshal(buf []byte, pos *int) {}

// Trak is ISOBMFF trak box type.
type Trak struct{}

// Type returns the BoxType.
func (*Trak) Type() BoxType {
	return [4]byte{'t', 'r', 'a', 'k'}
}

// Size returns the marshaled size in bytes.
func (b *Trak) Size() int {
	return 0
}

// Marshal writes nothing: the box has no fields of its own.
func (b *Trak) Marshal(buf []byte, pos *int) {}

/*************************** mvhd ****************************/

// Mvhd is ISOBMFF mvhd box type.
type Mvhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	Timescale          uint32
	DurationV0         uint32
	DurationV1         uint64
	Rate               int32 // fixed-point 16.16 - template=0x00010000
	Volume             int16 // template=0x0100
	Reserved           int16
	Reserved2          [2]uint32
	Matrix             [9]int32 // template={ 0x00010000,0,0,0,0x00010000,0,0,0,0x40000000 }
	PreDefined         [6]int32
	NextTrackID        uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType {
	return [4]byte{'m', 'v', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Mvhd) Size() int {
	if b.FullBox.Version == 0 {
		return 100
	}
	return 112
}

// Marshal box to buffer.
func (b *Mvhd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	if b.FullBox.Version == 0 {
		WriteUint32(buf, pos, b.CreationTimeV0)
		WriteUint32(buf, pos, b.ModificationTimeV0)
	} else {
		WriteUint64(buf, pos, b.CreationTimeV1)
		WriteUint64(buf, pos, b.ModificationTimeV1)
	}
	WriteUint32(buf, pos, b.Timescale)
	if b.FullBox.Version == 0 {
		WriteUint32(buf, pos, b.DurationV0)
	} else {
		WriteUint64(buf, pos, b.DurationV1)
	}
	WriteUint32(buf, pos, uint32(b.Rate))
	WriteUint16(buf, pos, uint16(b.Volume))
	WriteUint16(buf, pos, uint16(b.Reserved))
	for _, reserved := range b.Reserved2 {
		WriteUint32(buf, pos, reserved)
	}
	for _, matrix := range b.Matrix {
		WriteUint32(buf, pos, uint32(matrix))
	}
	for _, preDefined := range b.PreDefined {
		WriteUint32(buf, pos, uint32(preDefined))
	}
	WriteUint32(buf, pos, b.NextTrackID)
}

// Unmarshal box from buffer.
func (b *Mvhd) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.CreationTimeV0 = v
		v, err = ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.ModificationTimeV0 = v
	} else {
		v, err := ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.CreationTimeV1 = v
		v, err = ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.ModificationTimeV1 = v
	}

	timescale, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.Timescale = timescale

	if b.FullBox.Version == 0 {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.DurationV0 = v
	} else {
		v, err := ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.DurationV1 = v
	}

	rate, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.Rate = int32(rate)

	volume, err := ReadUint16(buf, pos)
	if err != nil {
		return err
	}
	b.Volume = int16(volume)

	reserved, err := ReadUint16(buf, pos)
	if err != nil {
		return err
	}
	b.Reserved = int16(reserved)

	for i := range b.Reserved2 {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.Reserved2[i] = v
	}
	for i := range b.Matrix {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.Matrix[i] = int32(v)
	}
	for i := range b.PreDefined {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.PreDefined[i] = int32(v)
	}

	nextTrackID, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.NextTrackID = nextTrackID
	return nil
}

/*********************** SampleEntry *************************/

// SampleEntry is the common header shared by every stsd sample entry.
type SampleEntry struct {
	Reserved           [6]uint8
	DataReferenceIndex uint16
}

// Marshal entry to buffer.
func (b *SampleEntry) Marshal(buf []byte, pos *int) {
	for _, reserved := range b.Reserved {
		WriteByte(buf, pos, reserved)
	}
	WriteUint16(buf, pos, b.DataReferenceIndex)
}

// Unmarshal entry from buffer.
func (b *SampleEntry) Unmarshal(buf []byte, pos *int) error {
	for i := range b.Reserved {
		v, err := ReadByte(buf, pos)
		if err != nil {
			return err
		}
		b.Reserved[i] = v
	}
	idx, err := ReadUint16(buf, pos)
	if err != nil {
		return err
	}
	b.DataReferenceIndex = idx
	return nil
}

// MetaSampleEntry is a generic, format-agnostic stsd sample description
// entry. Telemetry tracks (gpmd, camm, and the vendor-specific fourCCs
// other cameras use) carry nothing beyond SampleEntry plus a handful of
// codec-private bytes, unlike the audio/video entries this library has no
// use for. ExtraData holds whatever bytes follow SampleEntry verbatim, for
// decoders that need e.g. the CAMM reserved/type pair.
type MetaSampleEntry struct {
	SampleEntry
	Format    BoxType
	ExtraData []byte
}

// Type returns the BoxType, which for a sample entry is its declared format.
func (b *MetaSampleEntry) Type() BoxType {
	return b.Format
}

// Size returns the marshaled size in bytes.
func (b *MetaSampleEntry) Size() int {
	return 8 + len(b.ExtraData)
}

// Marshal entry to buffer.
func (b *MetaSampleEntry) Marshal(buf []byte, pos *int) {
	b.SampleEntry.Marshal(buf, pos)
	Write(buf, pos, b.ExtraData)
}

// Unmarshal entry from buffer. format is the entry's box type, read by the
// caller from the box header that precedes this payload.
func (b *MetaSampleEntry) Unmarshal(buf []byte, pos *int, format BoxType) error {
	b.Format = format
	if err := b.SampleEntry.Unmarshal(buf, pos); err != nil {
		return err
	}
	rest, err := ReadBytes(buf, pos, len(buf)-*pos)
	if err != nil {
		return err
	}
	b.ExtraData = rest
	return nil
}

/*************************** stco / co64 ****************************/

// Stco is ISOBMFF stco box type: 32-bit chunk offsets into the file.
type Stco struct {
	FullBox
	EntryCount  uint32
	ChunkOffset []uint32
}

// Type returns the BoxType.
func (*Stco) Type() BoxType {
	return [4]byte{'s', 't', 'c', 'o'}
}

// Size returns the marshaled size in bytes.
func (b *Stco) Size() int {
	return 8 + len(b.ChunkOffset)*4
}

// Marshal box to buffer.
func (b *Stco) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.EntryCount)
	for _, offset := range b.ChunkOffset {
		WriteUint32(buf, pos, offset)
	}
}

// Unmarshal box from buffer.
func (b *Stco) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	count, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.EntryCount = count
	b.ChunkOffset = make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.ChunkOffset = append(b.ChunkOffset, v)
	}
	return nil
}

// Co64 is ISOBMFF co64 box type: 64-bit chunk offsets, used once a file
// grows past the 4 GiB that stco's 32-bit offsets can address.
type Co64 struct {
	FullBox
	EntryCount  uint32
	ChunkOffset []uint64
}

// Type returns the BoxType.
func (*Co64) Type() BoxType {
	return [4]byte{'c', 'o', '6', '4'}
}

// Size returns the marshaled size in bytes.
func (b *Co64) Size() int {
	return 8 + len(b.ChunkOffset)*8
}

// Marshal box to buffer.
func (b *Co64) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.EntryCount)
	for _, offset := range b.ChunkOffset {
		WriteUint64(buf, pos, offset)
	}
}

// Unmarshal box from buffer.
func (b *Co64) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	count, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.EntryCount = count
	b.ChunkOffset = make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.ChunkOffset = append(b.ChunkOffset, v)
	}
	return nil
}

/*************************** stsc ****************************/

// StscEntry .
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Marshal entry to buffer.
func (b *StscEntry) Marshal(buf []byte, pos *int) {
	WriteUint32(buf, pos, b.FirstChunk)
	WriteUint32(buf, pos, b.SamplesPerChunk)
	WriteUint32(buf, pos, b.SampleDescriptionIndex)
}

// Unmarshal entry from buffer.
func (b *StscEntry) Unmarshal(buf []byte, pos *int) error {
	v, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.FirstChunk = v

	v, err = ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.SamplesPerChunk = v

	v, err = ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.SampleDescriptionIndex = v
	return nil
}

// Stsc is ISOBMFF stsc box type.
type Stsc struct {
	FullBox
	EntryCount uint32
	Entries    []StscEntry
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType {
	return [4]byte{'s', 't', 's', 'c'}
}

// Size returns the marshaled size in bytes.
func (b *Stsc) Size() int {
	return 8 + len(b.Entries)*12
}

// Marshal box to buffer.
func (b *Stsc) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.EntryCount)
	for _, entry := range b.Entries {
		entry.Marshal(buf, pos)
	}
}

// Unmarshal box from buffer.
func (b *Stsc) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	count, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.EntryCount = count
	b.Entries = make([]StscEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var entry StscEntry
		if err := entry.Unmarshal(buf, pos); err != nil {
			return err
		}
		b.Entries = append(b.Entries, entry)
	}
	return nil
}

/*************************** stsd ****************************/

// Stsd is ISOBMFF stsd box type. The demuxer reads EntryCount and then
// walks the entry that follows as a regular box to learn the track's
// sample format fourCC (gpmd, camm, or a vendor-specific type).
type Stsd struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Stsd) Type() BoxType {
	return [4]byte{'s', 't', 's', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Stsd) Size() int {
	return 8
}

// Marshal box to buffer.
func (b *Stsd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.EntryCount)
}

// Unmarshal box from buffer.
func (b *Stsd) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	count, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.EntryCount = count
	return nil
}

/*************************** stsz ****************************/

// Stsz is ISOBMFF stsz box type.
type Stsz struct {
	FullBox
	SampleSize  uint32
	SampleCount uint32
	EntrySize   []uint32
}

// Type returns the BoxType.
func (*Stsz) Type() BoxType {
	return [4]byte{'s', 't', 's', 'z'}
}

// Size returns the marshaled size in bytes.
func (b *Stsz) Size() int {
	return 12 + len(b.EntrySize)*4
}

// Marshal box to buffer.
func (b *Stsz) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.SampleSize)
	WriteUint32(buf, pos, b.SampleCount)
	for _, entry := range b.EntrySize {
		WriteUint32(buf, pos, entry)
	}
}

// Unmarshal box from buffer.
func (b *Stsz) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	sampleSize, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.SampleSize = sampleSize

	sampleCount, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.SampleCount = sampleCount

	b.EntrySize = nil
	if sampleSize == 0 {
		b.EntrySize = make([]uint32, 0, sampleCount)
		for i := uint32(0); i < sampleCount; i++ {
			v, err := ReadUint32(buf, pos)
			if err != nil {
				return err
			}
			b.EntrySize = append(b.EntrySize, v)
		}
	}
	return nil
}

/*************************** stts ****************************/

// Stts is ISOBMFF stts box type.
type Stts struct {
	FullBox
	EntryCount uint32
	Entries    []SttsEntry
}

// SttsEntry .
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Marshal entry to buffer.
func (b *SttsEntry) Marshal(buf []byte, pos *int) {
	WriteUint32(buf, pos, b.SampleCount)
	WriteUint32(buf, pos, b.SampleDelta)
}

// Unmarshal entry from buffer.
func (b *SttsEntry) Unmarshal(buf []byte, pos *int) error {
	v, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.SampleCount = v

	v, err = ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.SampleDelta = v
	return nil
}

// Type returns the BoxType.
func (*Stts) Type() BoxType {
	return [4]byte{'s', 't', 't', 's'}
}

// Size returns the marshaled size in bytes.
func (b *Stts) Size() int {
	return 8 + len(b.Entries)*8
}

// Marshal box to buffer.
func (b *Stts) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.EntryCount)
	for _, entry := range b.Entries {
		entry.Marshal(buf, pos)
	}
}

// Unmarshal box from buffer.
func (b *Stts) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	count, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.EntryCount = count
	b.Entries = make([]SttsEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var entry SttsEntry
		if err := entry.Unmarshal(buf, pos); err != nil {
			return err
		}
		b.Entries = append(b.Entries, entry)
	}
	return nil
}

/*************************** tkhd ****************************/

// Tkhd is ISOBMFF tkhd box type.
type Tkhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	TrackID            uint32
	Reserved0          uint32
	DurationV0         uint32
	DurationV1         uint64

	Reserved1      [2]uint32
	Layer          int16 // template=0
	AlternateGroup int16 // template=0
	Volume         int16 // template={if track_is_audio 0x0100 else 0}
	Reserved2      uint16
	Matrix         [9]int32 // template={ 0x00010000,0,0,0,0x00010000,0,0,0,0x40000000 };
	Width          uint32   // fixed-point 16.16
	Height         uint32   // fixed-point 16.16
}

// Type returns the BoxType.
func (*Tkhd) Type() BoxType {
	return [4]byte{'t', 'k', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Tkhd) Size() int {
	if b.FullBox.Version == 0 {
		return 84
	}
	return 96
}

// Marshal box to buffer.
func (b *Tkhd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	if b.FullBox.Version == 0 {
		WriteUint32(buf, pos, b.CreationTimeV0)
		WriteUint32(buf, pos, b.ModificationTimeV0)
	} else {
		WriteUint64(buf, pos, b.CreationTimeV1)
		WriteUint64(buf, pos, b.ModificationTimeV1)
	}
	WriteUint32(buf, pos, b.TrackID)
	WriteUint32(buf, pos, b.Reserved0)
	if b.FullBox.Version == 0 {
		WriteUint32(buf, pos, b.DurationV0)
	} else {
		WriteUint64(buf, pos, b.DurationV1)
	}
	for _, reserved := range b.Reserved1 {
		WriteUint32(buf, pos, reserved)
	}
	WriteUint16(buf, pos, uint16(b.Layer))
	WriteUint16(buf, pos, uint16(b.AlternateGroup))
	WriteUint16(buf, pos, uint16(b.Volume))
	WriteUint16(buf, pos, b.Reserved2)
	for _, matrix := range b.Matrix {
		WriteUint32(buf, pos, uint32(matrix))
	}
	WriteUint32(buf, pos, b.Width)
	WriteUint32(buf, pos, b.Height)
}

// Unmarshal box from buffer.
func (b *Tkhd) Unmarshal(buf []byte, pos *int) error {
	if err := b.FullBox.Unmarshal(buf, pos); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.CreationTimeV0 = v
		v, err = ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.ModificationTimeV0 = v
	} else {
		v, err := ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.CreationTimeV1 = v
		v, err = ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.ModificationTimeV1 = v
	}

	trackID, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.TrackID = trackID

	reserved0, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.Reserved0 = reserved0

	if b.FullBox.Version == 0 {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.DurationV0 = v
	} else {
		v, err := ReadUint64(buf, pos)
		if err != nil {
			return err
		}
		b.DurationV1 = v
	}

	for i := range b.Reserved1 {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.Reserved1[i] = v
	}

	layer, err := ReadUint16(buf, pos)
	if err != nil {
		return err
	}
	b.Layer = int16(layer)

	altGroup, err := ReadUint16(buf, pos)
	if err != nil {
		return err
	}
	b.AlternateGroup = int16(altGroup)

	volume, err := ReadUint16(buf, pos)
	if err != nil {
		return err
	}
	b.Volume = int16(volume)

	reserved2, err := ReadUint16(buf, pos)
	if err != nil {
		return err
	}
	b.Reserved2 = reserved2

	for i := range b.Matrix {
		v, err := ReadUint32(buf, pos)
		if err != nil {
			return err
		}
		b.Matrix[i] = int32(v)
	}

	width, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.Width = width

	height, err := ReadUint32(buf, pos)
	if err != nil {
		return err
	}
	b.Height = height
	return nil
}
