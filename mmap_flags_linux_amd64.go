package shadow

import "golang.org/x/sys/unix"

// mapFlags keeps the executable arena in the low 2GB, within rel32 reach of
// the program text, so a patched entry can jump straight to a stub.
const mapFlags = unix.MAP_32BIT
