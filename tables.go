package binmap

// Static code-to-name tables. Lookups that miss degrade to "Unknown" via
// lookup.

var neTargetOS = map[uint8]string{
	1: "OS/2",
	2: "Windows",
	3: "European MS-DOS 4.x",
	4: "Windows 386",
	5: "BOSS",
}

var leCPU = map[uint16]string{
	0x01: "80286",
	0x02: "80386",
	0x03: "80486",
	0x04: "80586",
	0x20: "i860",
	0x21: "N11",
	0x40: "R2000",
	0x41: "R6000",
	0x42: "R4000",
}

var leTargetOS = map[uint16]string{
	1: "OS/2",
	2: "Windows",
	3: "European MS-DOS 4.x",
	4: "Windows 386",
}

var peMachine = map[uint16]string{
	0x014c: "I386",
	0x0162: "R3000",
	0x0166: "R4000",
	0x0169: "WCEMIPSV2",
	0x01a2: "SH3",
	0x01a6: "SH4",
	0x01c0: "ARM",
	0x01c2: "THUMB",
	0x01c4: "ARMNT",
	0x01f0: "POWERPC",
	0x0200: "IA64",
	0x0ebc: "EBC",
	0x5032: "RISCV32",
	0x5064: "RISCV64",
	0x8664: "AMD64",
	0xaa64: "ARM64",
}

var peSubsystem = map[uint16]string{
	1:  "Native",
	2:  "GUI",
	3:  "Console",
	5:  "OS/2 console",
	7:  "POSIX console",
	9:  "Windows CE",
	10: "EFI application",
	11: "EFI boot service driver",
	12: "EFI runtime driver",
	13: "EFI ROM",
	14: "Xbox",
	16: "Boot application",
}

var elfMachine = map[uint16]string{
	2:   "SPARC",
	3:   "386",
	4:   "68K",
	8:   "MIPS",
	20:  "PPC",
	21:  "PPC64",
	22:  "S390",
	40:  "ARM",
	42:  "SH",
	43:  "SPARCV9",
	50:  "IA64",
	62:  "AMD64",
	183: "AARCH64",
	243: "RISCV",
	247: "BPF",
	258: "LOONGARCH",
}

var elfOSABI = map[uint8]string{
	0:   "Unix System V",
	1:   "HP-UX",
	2:   "NetBSD",
	3:   "Linux",
	6:   "Solaris",
	7:   "AIX",
	8:   "IRIX",
	9:   "FreeBSD",
	10:  "Tru64",
	12:  "OpenBSD",
	13:  "OpenVMS",
	97:  "ARM",
	255: "Standalone",
}

var elfType = map[uint16]string{
	1: "REL",
	2: "EXEC",
	3: "DYN",
	4: "CORE",
}

var machoCPU = map[uint32]string{
	7:          "x86",
	7 | 1<<24:  "x86_64",
	12:         "arm",
	12 | 1<<24: "arm64",
	12 | 1<<25: "arm64_32",
	18:         "ppc",
	18 | 1<<24: "ppc64",
	6:          "m68k",
	14:         "sparc",
}

var machoFileType = map[uint32]string{
	1:  "OBJECT",
	2:  "EXECUTE",
	4:  "CORE",
	6:  "DYLIB",
	7:  "DYLINKER",
	8:  "BUNDLE",
	9:  "DYLIB_STUB",
	10: "DSYM",
	11: "KEXT_BUNDLE",
}

var zipMethod = map[uint16]string{
	ZipMethodStore:   "store",
	ZipMethodDeflate: "deflate",
	9:                "deflate64",
	ZipMethodBZIP2:   "bzip2",
	14:               "lzma",
	ZipMethodZstd:    "zstd",
	95:               "xz",
	98:               "ppmd",
}

var cabMethod = map[uint16]string{
	CabCompressNone:    "none",
	CabCompressMSZIP:   "mszip",
	CabCompressQuantum: "quantum",
	CabCompressLZX:     "lzx",
}
