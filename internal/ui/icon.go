package ui

// iconBytes is a 16x16 RGBA PNG.
var iconBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00,
	0x3e, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x60, 0xa0, 0x05, 0xc8,
	0xb2, 0x7d, 0xf1, 0x1f, 0x1b, 0xa6, 0x48, 0x33, 0x51, 0x86, 0x10, 0xd2,
	0x8c, 0xd7, 0x10, 0x74, 0x45, 0xe8, 0x00, 0xaf, 0x21, 0x84, 0x34, 0x13,
	0x34, 0x84, 0x18, 0xcd, 0xd8, 0x0c, 0x19, 0xae, 0x06, 0x90, 0x15, 0x88,
	0x14, 0x47, 0x23, 0x55, 0x12, 0x12, 0x55, 0x92, 0x32, 0x55, 0x32, 0x13,
	0xa9, 0x00, 0x00, 0x45, 0xc8, 0xd8, 0xf0, 0x2d, 0x39, 0x27, 0xf3, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
