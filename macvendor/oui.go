package macvendor

// ouiDatabase maps an uppercase "XX:XX:XX" OUI prefix to a vendor name.
// A few representative prefixes per vendor family plus common
// consumer-router OUIs; extend as deployments need.
var ouiDatabase = map[string]string{
	"00:00:0C": "Cisco",
	"00:01:42": "Cisco",
	"00:02:FC": "Cisco",
	"00:03:6B": "Cisco",

	"00:00:0D": "HP",
	"00:01:E6": "HP",
	"00:14:38": "HP",
	"00:1B:3F": "HP",

	"00:06:5B": "Dell",
	"00:0B:DB": "Dell",
	"00:14:22": "Dell",
	"00:1C:23": "Dell",

	"00:02:B3": "Intel",
	"00:0C:F1": "Intel",
	"00:13:02": "Intel",
	"00:1B:21": "Intel",

	"00:10:18": "Broadcom",
	"00:14:A4": "Broadcom",
	"00:1C:C0": "Broadcom",

	"00:E0:4C": "Realtek",
	"52:54:00": "Realtek",
	"00:0C:76": "Realtek",

	"00:03:93": "Apple",
	"00:0A:27": "Apple",
	"00:1B:63": "Apple",
	"00:1E:C2": "Apple",

	"00:0C:29": "VMware",
	"00:05:69": "VMware",
	"00:50:56": "VMware",

	"08:00:27": "VirtualBox",

	"00:03:FF": "Microsoft",
	"00:0D:3A": "Microsoft",
	"00:15:5D": "Microsoft",

	"00:05:5D": "D-Link",
	"00:0D:88": "D-Link",
	"00:1B:11": "D-Link",

	"00:27:19": "TP-Link",
	"10:FE:ED": "TP-Link",
	"24:A4:3C": "TP-Link",
	"F4:F2:6D": "TP-Link",
}
