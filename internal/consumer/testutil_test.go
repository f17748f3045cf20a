package consumer

import "rvtrace/internal/disasm"

func fakeInsn() disasm.Insn {
	return disasm.Insn{Addr: 0x1000, Len: 4, Mnemonic: "add"}
}
