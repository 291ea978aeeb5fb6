package zhipin

import "strings"

var cityCodes = map[string]string{
	"全国": "100010000",
	"北京": "101010100",
	"上海": "101020100",
	"天津": "101030100",
	"重庆": "101040100",
	"杭州": "101210100",
	"南京": "101190100",
	"苏州": "101190400",
	"武汉": "101200100",
	"成都": "101270100",
	"西安": "101110100",
	"广州": "101280100",
	"深圳": "101280600",
	"厦门": "101230200",
	"长沙": "101250100",
	"郑州": "101180100",
}

var experienceCodes = map[string]string{
	"在校生":   "108",
	"应届生":   "102",
	"经验不限":  "101",
	"1年以内":  "103",
	"1-3年":  "104",
	"3-5年":  "105",
	"5-10年": "106",
	"10年以上": "107",
}

var degreeCodes = map[string]string{
	"初中及以下": "209",
	"中专/中技": "208",
	"高中":    "206",
	"大专":    "202",
	"本科":    "203",
	"硕士":    "204",
	"博士":    "205",
}

var salaryCodes = map[string]string{
	"3K以下":   "402",
	"3-5K":   "403",
	"5-10K":  "404",
	"10-20K": "405",
	"20-50K": "406",
	"50K以上":  "407",
}

func lookup(codes map[string]string, value string) string {
	v := strings.TrimSpace(value)
	if code, ok := codes[v]; ok {
		return code
	}
	if code, ok := codes[strings.ToUpper(v)]; ok {
		return code
	}
	return v
}
