package models

import "testing"

func TestVariablesMerge(t *testing.T) {
	template := Variables{"wifi.ssid": "base-net", "wifi.channel": "6"}
	override := Variables{"wifi.ssid": "customer-net"}

	merged := template.Merge(override)

	if merged["wifi.ssid"] != "customer-net" {
		t.Errorf("wifi.ssid = %v, override must win", merged["wifi.ssid"])
	}
	if merged["wifi.channel"] != "6" {
		t.Errorf("wifi.channel = %v, template value must survive", merged["wifi.channel"])
	}

	if template["wifi.ssid"] != "base-net" {
		t.Error("Merge must not mutate its receiver")
	}
}

func TestVariablesMergeNilReceiver(t *testing.T) {
	var template Variables
	merged := template.Merge(Variables{"k": "v"})
	if merged["k"] != "v" {
		t.Errorf("k = %v, want v", merged["k"])
	}

	if out := template.Merge(nil); len(out) != 0 {
		t.Errorf("nil merge = %v, want empty", out)
	}
}
