// Package profile provides the Device Profile Registry for purifier-bridge.
//
// A DeviceProfile is a flat, declarative record describing one purifier
// model family: which wire generation it speaks, which semantic fields it
// reports, how protocol-native keys translate to those semantic names, and
// which fields may be written back to the device (its capability set).
//
// Profiles are plain data. There is no inheritance between models; the
// fields every device of a generation reports (name, model ID, device ID)
// are composed into each profile at load time, and devices whose model is
// not known fall back to the Minimal profile for their generation.
//
// # Sources
//
// Built-in profiles are embedded from profiles.yaml. Operators may supply an
// additional YAML file whose profiles replace built-ins with the same name
// and add new ones:
//
//	profiles:
//	  - name: AC2889
//	    models: ["AC2889/10"]
//	    generation: legacy
//	    capabilities: [power, mode, fan_speed]
//	    fields:
//	      - {key: pwr, name: power, kind: switch, "on": "1", "off": "0"}
//	      - {key: speed, name: fan_speed, kind: number}
//
// # Thread Safety
//
// A Registry and the profiles it returns are immutable after construction
// and safe to share across goroutines.
package profile
