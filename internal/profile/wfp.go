package profile

// WfpProfile returns the builtin profile for Windows Filtering Platform
// traces. WFP reports verdicts as PERMIT/DROP rather than ALLOW/BLOCK.
func WfpProfile() Profile {
	return Profile{
		ID:   "wfp",
		Name: "Windows Filtering Platform",
		Providers: []string{
			"Microsoft-Windows-WFP",
		},
		AllowToken: "PERMIT",
		BlockToken: "DROP",
	}
}
