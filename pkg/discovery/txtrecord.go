package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServiceTXT creates TXT records for an advertised service.
func EncodeServiceTXT(info *Info) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyVersion] = strconv.Itoa(info.Version)
	txt[TXTKeyDeviceName] = info.DeviceName

	if info.Fingerprint != "" {
		txt[TXTKeyFingerprint] = info.Fingerprint
	}

	return txt
}

// DecodeServiceTXT parses TXT records from a discovered service.
func DecodeServiceTXT(txt TXTRecordMap) (*Info, error) {
	info := &Info{}

	vStr, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	v, err := strconv.Atoi(vStr)
	if err != nil || v < 1 {
		return nil, fmt.Errorf("%w: version %q", ErrInvalidTXTRecord, vStr)
	}
	info.Version = v

	info.DeviceName, ok = txt[TXTKeyDeviceName]
	if !ok || info.DeviceName == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDeviceName)
	}

	// Fingerprint is optional; older peers never sent one.
	if fp, ok := txt[TXTKeyFingerprint]; ok {
		if !ValidFingerprint(fp) {
			return nil, fmt.Errorf("%w: fingerprint %q", ErrInvalidTXTRecord, fp)
		}
		info.Fingerprint = fp
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings, the format mDNS libraries expect.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
