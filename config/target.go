package config

// TargetConfig is a target address with optional labels, written either as a
// plain string or as a single key map:
//
//	targets:
//	  - 8.8.8.8
//	  - 1.1.1.1:
//	      provider: cloudflare
type TargetConfig struct {
	Addr   string
	Labels map[string]string
}

// UnmarshalYAML implements yaml.Unmarshaler interface.
func (d *TargetConfig) UnmarshalYAML(unmashal func(interface{}) error) error {
	var s string
	if err := unmashal(&s); err == nil {
		d.Addr = s
		return nil
	}

	var x map[string]map[string]string
	if err := unmashal(&x); err != nil {
		return err
	}

	for addr, l := range x {
		d.Addr = addr
		d.Labels = l
	}

	return nil
}

// MarshalYAML implements yaml.Marshaler interface.
func (t TargetConfig) MarshalYAML() (interface{}, error) {
	if len(t.Labels) == 0 {
		return t.Addr, nil
	}

	return map[string]map[string]string{t.Addr: t.Labels}, nil
}

// TargetsFromAddrs wraps plain addresses into unlabelled target configs.
func TargetsFromAddrs(addrs []string) []TargetConfig {
	targets := make([]TargetConfig, len(addrs))
	for i, a := range addrs {
		targets[i] = TargetConfig{Addr: a}
	}

	return targets
}
