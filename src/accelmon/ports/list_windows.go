package ports

const defaultPattern = ""

func (e *Enumerator) list() []string {
	return probeNames(comNames(comPortCount), e.probe)
}
