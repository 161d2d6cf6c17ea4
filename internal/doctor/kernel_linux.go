package doctor

import "golang.org/x/sys/unix"

func unameRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}

	return unix.ByteSliceToString(uts.Release[:]), nil
}
