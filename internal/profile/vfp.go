package profile

// VfpProfile returns the builtin profile for virtual filtering platform
// traces. VFP messages start with the rule verdict in upper case.
func VfpProfile() Profile {
	return Profile{
		ID:   "vfp",
		Name: "Virtual Filtering Platform",
		Providers: []string{
			"Microsoft-Windows-Hyper-V-VfpExt",
		},
		AllowToken: "ALLOW",
		BlockToken: "BLOCK",
	}
}
