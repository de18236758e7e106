package truststore

// Guard runs the platform permission check when it is enabled
type Guard struct {
	Enabled  bool
	Platform Platform
}

// Check returns a *PermissionError (or ErrUnsupportedPlatform) when the keys
// file cannot be restricted to its owner. A disabled guard always passes.
func (g Guard) Check(keysFile string) error {
	if !g.Enabled {
		return nil
	}
	return g.Platform.EnforcePermissions(keysFile)
}
