package respond

// AccountRespond 注册 / 登录成功的返回
type AccountRespond struct {
	Uuid     string `json:"uuid"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Token    string `json:"token"`
}
