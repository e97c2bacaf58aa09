package schema

import "github.com/go-ini/ini"

// LoadCapabilities reads the feature-capabilities file (one [module]
// section per YANG module, keys are feature names, values "true"/"false")
// and enables the corresponding features on ms. This is the on-disk
// format the platform-setup tooling historically wrote under
// /etc/configd-capabilities; confd reuses the format rather than the
// tool, loading it directly at startup.
func LoadCapabilities(ms *ModelSet, path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}
	for _, sec := range cfg.Sections() {
		modName := sec.Name()
		if modName == ini.DefaultSection {
			continue
		}
		for _, key := range sec.Keys() {
			if enabled, err := key.Bool(); err == nil && enabled {
				ms.EnableFeature(modName, key.Name())
			}
		}
	}
	return nil
}
