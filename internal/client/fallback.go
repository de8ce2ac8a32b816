package client

import (
	"strings"

	"github.com/samber/lo"

	"github.com/actual-software/re-bridge/internal/resolver"
)

// staticRoster is served when no transport can list the backends.
func staticRoster() []resolver.Target {
	known := []struct{ id, name string }{
		{"port_9009", "libimp.so (T31 v1.1.6)"},
		{"port_9012", "libimp.so (T23)"},
		{"port_9013", "tx-isp-t23.ko"},
	}

	return lo.Map(known, func(k struct{ id, name string }, _ int) resolver.Target {
		base, _ := resolver.DirectBaseURL(k.id)

		return resolver.Target{
			LogicalID:     k.id,
			ResolvedID:    k.id,
			DirectBaseURL: base,
			DisplayName:   k.name,
			Architecture:  resolver.DefaultArchitecture,
		}
	})
}

// staticFunctions is the exported API of the vendor media library, served
// when no transport can list functions.
var staticFunctions = []string{
	"IMP_System_Init", "IMP_System_Exit", "IMP_System_GetVersion", "IMP_System_Bind", "IMP_System_UnBind",
	"IMP_Encoder_CreateGroup", "IMP_Encoder_DestroyGroup", "IMP_Encoder_CreateChn", "IMP_Encoder_DestroyChn",
	"IMP_Encoder_RegisterChn", "IMP_Encoder_UnRegisterChn", "IMP_Encoder_StartRecvPic", "IMP_Encoder_StopRecvPic",
	"IMP_Encoder_Query", "IMP_Encoder_GetStream", "IMP_Encoder_ReleaseStream",
	"IMP_FrameSource_CreateChn", "IMP_FrameSource_DestroyChn", "IMP_FrameSource_SetChnAttr",
	"IMP_FrameSource_GetChnAttr", "IMP_FrameSource_EnableChn", "IMP_FrameSource_DisableChn",
	"IMP_FrameSource_SetFrameDepth", "IMP_FrameSource_GetFrameDepth",
	"IMP_ISP_Open", "IMP_ISP_Close", "IMP_ISP_AddSensor", "IMP_ISP_DelSensor", "IMP_ISP_EnableSensor",
	"IMP_ISP_DisableSensor", "IMP_ISP_SetSensorRegister", "IMP_ISP_GetSensorRegister",
	"IMP_ISP_Tuning_SetContrast", "IMP_ISP_Tuning_GetContrast", "IMP_ISP_Tuning_SetBrightness",
	"IMP_ISP_Tuning_GetBrightness", "IMP_ISP_Tuning_SetSaturation", "IMP_ISP_Tuning_GetSaturation",
	"IMP_ISP_Tuning_SetSharpness", "IMP_ISP_Tuning_GetSharpness",
	"IMP_OSD_CreateGroup", "IMP_OSD_DestroyGroup", "IMP_OSD_RegisterRgn", "IMP_OSD_UnRegisterRgn",
	"IMP_OSD_SetRgnAttr", "IMP_OSD_GetRgnAttr", "IMP_OSD_ShowRgn", "IMP_OSD_HideRgn",
	"IMP_IVS_CreateGroup", "IMP_IVS_DestroyGroup", "IMP_IVS_CreateChn", "IMP_IVS_DestroyChn",
	"IMP_IVS_RegisterChn", "IMP_IVS_UnRegisterChn", "IMP_IVS_StartRecvPic", "IMP_IVS_StopRecvPic",
	"IMP_IVS_PollingResult", "IMP_IVS_GetResult", "IMP_IVS_ReleaseResult",
}

// filterNames keeps the names containing search, ignoring case. An empty
// search keeps everything.
func filterNames(names []string, search string) []string {
	if search == "" {
		return append([]string(nil), names...)
	}

	needle := strings.ToLower(search)

	return lo.Filter(names, func(name string, _ int) bool {
		return strings.Contains(strings.ToLower(name), needle)
	})
}

// functionNames normalises a function list whose items are names or objects
// carrying "name" or "symbol".
func functionNames(v interface{}) (interface{}, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}

	names := lo.FilterMap(items, func(item interface{}, _ int) (string, bool) {
		switch t := item.(type) {
		case string:
			return t, t != ""
		case map[string]interface{}:
			for _, key := range []string{"name", "symbol"} {
				if s, ok := t[key].(string); ok && s != "" {
					return s, true
				}
			}
		}

		return "", false
	})

	return names, len(names) > 0
}

// rosterTargets decodes a backend list, accepting it when at least one entry
// is usable.
func rosterTargets(v interface{}) (interface{}, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}

	targets, _ := resolver.DecodeRoster(items)

	return targets, len(targets) > 0
}
