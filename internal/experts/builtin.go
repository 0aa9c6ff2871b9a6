package experts

var builtin = []Expert{
	{ID: "1", Name: "Haruto Yamada", License: "Tax Accountant", Title: "Inheritance and gift tax planning", Tags: []string{"inheritance tax", "tax saving"}, Price: "30min / ¥3,000", Online: true, Rating: 4.8, Reviews: 212},
	{ID: "2", Name: "Yui Suzuki", License: "Labor and Social Security Attorney", Title: "Work rules and payroll for small firms", Tags: []string{"work rules", "payroll"}, Price: "30min / ¥3,000", Online: true, Rating: 4.6, Reviews: 98},
	{ID: "3", Name: "Ren Takahashi", License: "Attorney", Title: "Corporate law and contract disputes", Tags: []string{"corporate law", "retainer"}, Price: "30min / ¥5,000", Rating: 4.7, Reviews: 154},
	{ID: "4", Name: "Aoi Tanaka", License: "Judicial Scrivener", Title: "Real estate registration and inheritance", Tags: []string{"registration"}, Price: "30min / ¥3,000", Online: true, Rating: 4.5, Reviews: 76},
	{ID: "5", Name: "Sota Ito", License: "Administrative Scrivener", Title: "Business permits and contracts", Tags: []string{"permits", "contracts"}, Price: "30min / ¥2,500", Rating: 4.4, Reviews: 61},
	{ID: "6", Name: "Mio Watanabe", License: "Patent Attorney", Title: "Patent and trademark filings", Tags: []string{"trademark"}, Price: "30min / ¥4,000", Rating: 4.9, Reviews: 43},
	{ID: "7", Name: "Kaito Nakamura", License: "Certified Public Accountant", Title: "Audit readiness and internal control", Tags: []string{"IPO", "audit"}, Price: "30min / ¥5,000", Online: true, Rating: 4.6, Reviews: 88},
	{ID: "8", Name: "Hina Kobayashi", Title: "Funeral and end-of-life planning", Tags: []string{"memorial"}, Price: "30min / ¥2,000", Rating: 4.3, Reviews: 35},
	{ID: "9", Name: "Yuto Kato", License: "Financial Planner", Title: "Life plan and household budget reviews", Tags: []string{"asset management"}, Price: "30min / ¥2,500", Online: true, Rating: 4.5, Reviews: 120},
	{ID: "10", Name: "Sakura Yoshida", Title: "Household budget coaching", Tags: []string{"life plan"}, Price: "30min / ¥1,500", Rating: 4.2, Reviews: 27},
}
