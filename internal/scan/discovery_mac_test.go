package scan

import "testing"

func TestParseProcARP(t *testing.T) {
	data := `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         a4:2b:b0:01:02:03     *        eth0
192.168.1.20     0x1         0x0         00:00:00:00:00:00     *        eth0
192.168.1.31     0x1         0x2         b8:27:eb:1:2:3        *        eth0
`
	table := parseProcARP(data)
	if len(table) != 2 {
		t.Fatalf("expected 2 entries, got %v", table)
	}
	if table["192.168.1.1"] != "A4:2B:B0:01:02:03" {
		t.Fatalf("unexpected mac %q", table["192.168.1.1"])
	}
	if table["192.168.1.31"] != "B8:27:EB:01:02:03" {
		t.Fatalf("expected padded mac, got %q", table["192.168.1.31"])
	}
}

func TestParseARPCommand(t *testing.T) {
	output := `? (10.0.0.1) at 8c:85:90:12:34:56 on en0 ifscope [ethernet]
? (10.0.0.9) at (incomplete) on en0 ifscope [ethernet]
Interface: 10.0.0.42 --- 0x5
  Internet Address      Physical Address      Type
  10.0.0.7              b8-27-eb-aa-bb-cc     dynamic
`
	table := parseARPCommand(output)
	if len(table) != 2 {
		t.Fatalf("expected 2 entries, got %v", table)
	}
	if table["10.0.0.1"] != "8C:85:90:12:34:56" {
		t.Fatalf("unexpected bsd entry %q", table["10.0.0.1"])
	}
	if table["10.0.0.7"] != "B8:27:EB:AA:BB:CC" {
		t.Fatalf("unexpected windows entry %q", table["10.0.0.7"])
	}
}

func TestNormaliseMAC(t *testing.T) {
	cases := map[string]string{
		"8c-85-90-12-34-56": "8C:85:90:12:34:56",
		"b8:27:eb:1:2:3":    "B8:27:EB:01:02:03",
		"00:00:00:00:00:00": "",
		"invalid":           "",
		"":                  "",
	}
	for in, want := range cases {
		if got := normaliseMAC(in); got != want {
			t.Fatalf("normaliseMAC(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUniqueStrings(t *testing.T) {
	got := uniqueStrings([]string{"nas.local.", "nas.local", " ", "alpha"})
	if len(got) != 2 || got[0] != "alpha" || got[1] != "nas.local" {
		t.Fatalf("unexpected result %v", got)
	}
}
