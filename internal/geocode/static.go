package geocode

import "tripsync/internal/model"

// airports is the built-in table consulted before any network tier.
var airports = map[string]model.Coordinate{
	"AMS": {Latitude: 52.3086, Longitude: 4.7639},
	"ATL": {Latitude: 33.6367, Longitude: -84.4281},
	"BCN": {Latitude: 41.2971, Longitude: 2.0785},
	"BKK": {Latitude: 13.6811, Longitude: 100.7472},
	"BOS": {Latitude: 42.3643, Longitude: -71.0052},
	"CDG": {Latitude: 49.0097, Longitude: 2.5479},
	"CPT": {Latitude: -33.9648, Longitude: 18.6017},
	"DEN": {Latitude: 39.8617, Longitude: -104.6731},
	"DFW": {Latitude: 32.8968, Longitude: -97.0380},
	"DOH": {Latitude: 25.2731, Longitude: 51.6081},
	"DUB": {Latitude: 53.4213, Longitude: -6.2701},
	"DXB": {Latitude: 25.2528, Longitude: 55.3644},
	"EWR": {Latitude: 40.6925, Longitude: -74.1687},
	"FCO": {Latitude: 41.8003, Longitude: 12.2389},
	"FRA": {Latitude: 50.0333, Longitude: 8.5706},
	"GRU": {Latitude: -23.4356, Longitude: -46.4731},
	"HKG": {Latitude: 22.3080, Longitude: 113.9185},
	"HND": {Latitude: 35.5523, Longitude: 139.7800},
	"IAD": {Latitude: 38.9445, Longitude: -77.4558},
	"ICN": {Latitude: 37.4691, Longitude: 126.4510},
	"IST": {Latitude: 41.2753, Longitude: 28.7519},
	"JFK": {Latitude: 40.6413, Longitude: -73.7781},
	"JNB": {Latitude: -26.1392, Longitude: 28.2460},
	"KIX": {Latitude: 34.4273, Longitude: 135.2440},
	"LAX": {Latitude: 33.9416, Longitude: -118.4085},
	"LGW": {Latitude: 51.1537, Longitude: -0.1821},
	"LHR": {Latitude: 51.4700, Longitude: -0.4543},
	"LIS": {Latitude: 38.7742, Longitude: -9.1342},
	"MAD": {Latitude: 40.4983, Longitude: -3.5676},
	"MEL": {Latitude: -37.6690, Longitude: 144.8410},
	"MEX": {Latitude: 19.4361, Longitude: -99.0719},
	"MIA": {Latitude: 25.7959, Longitude: -80.2870},
	"MUC": {Latitude: 48.3538, Longitude: 11.7861},
	"NRT": {Latitude: 35.7720, Longitude: 140.3929},
	"ORD": {Latitude: 41.9742, Longitude: -87.9073},
	"PEK": {Latitude: 40.0799, Longitude: 116.6031},
	"PVG": {Latitude: 31.1443, Longitude: 121.8083},
	"SEA": {Latitude: 47.4502, Longitude: -122.3088},
	"SFO": {Latitude: 37.6213, Longitude: -122.3790},
	"SIN": {Latitude: 1.3644, Longitude: 103.9915},
	"SYD": {Latitude: -33.9399, Longitude: 151.1753},
	"YVR": {Latitude: 49.1967, Longitude: -123.1815},
	"YYZ": {Latitude: 43.6777, Longitude: -79.6248},
	"ZRH": {Latitude: 47.4582, Longitude: 8.5555},
}

// StaticTable returns a copy of the built-in airport table.
func StaticTable() map[string]model.Coordinate {
	out := make(map[string]model.Coordinate, len(airports))
	for code, c := range airports {
		out[code] = c
	}
	return out
}
