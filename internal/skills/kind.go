package skills

// Kind is the closed set of actuation skills. Dispatch is an exhaustive
// switch over this enum, so adding a skill is a compile-time-checked change
// rather than an entry in an open string map.
type Kind int

const (
	KindShellRun Kind = iota
	KindBrowserAct
	KindUIFindAndClick
	KindUIMoveMouse
	KindUIClick
	KindUITypeText
	KindUIWaitFor
	KindUIScreenVerify
)

var kindNames = map[Kind]string{
	KindShellRun:       "shell.run",
	KindBrowserAct:     "browser.act",
	KindUIFindAndClick: "ui.findAndClick",
	KindUIMoveMouse:    "ui.moveMouse",
	KindUIClick:        "ui.click",
	KindUITypeText:     "ui.typeText",
	KindUIWaitFor:      "ui.waitFor",
	KindUIScreenVerify: "ui.screen.verify",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k Kind) String() string {
	return kindNames[k]
}

// ParseKind maps a wire skill name to its Kind.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindByName[name]
	return k, ok
}

// Names lists every registered skill name, for the health surface.
func Names() []string {
	out := make([]string, 0, len(kindNames))
	for k := Kind(0); int(k) < len(kindNames); k++ {
		out = append(out, kindNames[k])
	}
	return out
}
