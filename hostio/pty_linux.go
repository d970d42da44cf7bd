package hostio

// OpenSimulatedGadget finds an available pseudoterminal and returns the
// master and slave ends as Ports. It exists so the bridge's event loop can
// be exercised end-to-end off real hardware: the slave Port stands in for
// the kernel's CDC-ACM gadget tty (/dev/ttyGS0), and a test or a `--simulate`
// CLI run reads/writes the master side to play the part of the host
// programmer tool. If termp is non-nil, the slave is configured with the
// given termios; if winp is non-nil, the slave's window size is set too
// (mirrors the original OpenPTY helper this is adapted from; STK500v1
// itself has no notion of terminal geometry).
func OpenSimulatedGadget(termp *Termios, winp *Winsize) (master, slave *Port, err error) {
	master, err = Open("/dev/ptmx", nil)
	if err != nil {
		return nil, nil, err
	}
	if err := master.SetLockPT(false); err != nil {
		master.Close()
		return nil, nil, err
	}
	slave, err = master.GetPTPeer(0)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	if termp != nil {
		if err := slave.SetAttr(TCSANOW, termp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}
	if winp != nil {
		if err := slave.SetWinSize(winp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}

	return master, slave, nil
}
